package server

const schemaSDL = `
schema {
	query: Query
	mutation: Mutation
}

type Query {
	books: [Book!]!
	book(id: ID!): Book
	author(id: ID!): Author
	me: User
}

type Mutation {
	login(username: String!, password: String!): User
	logout: Boolean!
	borrowBooks(bookIds: [ID!]!): BookUpdateResponse!
	returnBook(bookId: ID!): BookUpdateResponse!
}

type Book {
	_id: ID!
	title: String
	isBooked: Boolean!
	author: Author
}

type Author {
	_id: ID!
	name: String
	books: [Book!]!
}

type User {
	_id: ID!
	username: String!
	books: [Book!]!
	token: String
}

type BookUpdateResponse {
	success: Boolean!
	message: String
	books: [Book!]!
}
`
