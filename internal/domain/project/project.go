// Package project defines the minimal Project entity the engine reads.
// The full project/issue/sprint schema lives in the enclosing application;
// the engine only needs an identity row to snapshot against.
package project

import "time"

// Project is the snapshot source for context building.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
