// Package document defines the registry metadata records attached to the
// token: prospectuses, audit reports, and similar supporting material.
package document

import (
	"time"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
)

// Document is a named pointer to an external document plus its content hash.
type Document struct {
	Name      string        `json:"name"`
	URI       string        `json:"uri"`
	Hash      string        `json:"hash"`
	UpdatedBy token.Address `json:"updated_by"`
	UpdatedAt time.Time     `json:"updated_at"`
}
