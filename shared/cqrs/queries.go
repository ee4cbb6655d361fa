package cqrs

// ListUsersQuery returns the seeded users followed by those created since start.
type ListUsersQuery struct{}

// ListProcessedUserEventsQuery returns processed user events in the order they
// were handled.
type ListProcessedUserEventsQuery struct{}

// ListOrdersQuery returns orders created since start.
type ListOrdersQuery struct{}
