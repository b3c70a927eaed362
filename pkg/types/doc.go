// Package types defines the Store and Adapter interfaces, the Entity record,
// and the error taxonomy shared by every pantry backend and by the entity
// manager that sits on top of them.
package types
