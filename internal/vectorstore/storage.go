package vectorstore

import "icdcoder/internal/domain"

// Storage persists vectors and supports similarity search.
type Storage = domain.VectorStore

// DefaultTopK is used when a search asks for a non-positive number of results.
const DefaultTopK = 5
