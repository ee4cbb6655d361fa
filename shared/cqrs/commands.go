package cqrs

type CreateUserCommand struct {
	FirstName  string
	LastName   string
	Email      string
	Department string
}

type CreateOrderCommand struct {
	UserID      int
	ProductName string
	Quantity    int
	Price       float64
}
