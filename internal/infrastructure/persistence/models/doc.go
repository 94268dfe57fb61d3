// Package models contains the GORM persistence models of the tenant
// directory. They live in the shared, non-partitioned schema and are kept
// apart from the domain types, which carry no ORM concerns. Mappers convert
// between the two.
package models
