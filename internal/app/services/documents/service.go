// Package documents maintains the issuer's disclosure document registry:
// named references to off-system documents with a content hash for
// verification.
package documents

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/securities_layer/internal/app/domain/document"
	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/app/events"
	"github.com/R3E-Network/securities_layer/internal/app/storage"
	"github.com/R3E-Network/securities_layer/internal/authz"
	"github.com/R3E-Network/securities_layer/internal/errors"
	"github.com/R3E-Network/securities_layer/pkg/logger"
)

// Service is the document registry. Writes are owner/manager gated; reads
// are open.
type Service struct {
	registry authz.Registry
	store    storage.DocumentStore
	events   events.Log
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the registry service.
func New(registry authz.Registry, store storage.DocumentStore, evts events.Log, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("documents")
	}
	if evts == nil {
		evts = events.Nop{}
	}
	return &Service{
		registry: registry,
		store:    store,
		events:   evts,
		log:      log,
		now:      time.Now,
	}
}

// Set creates or replaces a document reference under its name.
func (s *Service) Set(ctx context.Context, caller token.Address, name, uri, hash string) (document.Document, error) {
	if !authz.IsOwnerOrManager(s.registry, caller) {
		return document.Document{}, errors.Unauthorized("document updates require owner or manager authority")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return document.Document{}, errors.InvalidInput("document name is required")
	}
	if strings.TrimSpace(uri) == "" {
		return document.Document{}, errors.InvalidInput("document uri is required")
	}

	doc := document.Document{
		Name:      name,
		URI:       uri,
		Hash:      hash,
		UpdatedBy: caller,
		UpdatedAt: s.now(),
	}
	if err := s.store.PutDocument(ctx, doc); err != nil {
		return document.Document{}, errors.Internal(err)
	}

	s.events.Emit(events.Event{
		Type:    events.EventDocumentUpdated,
		Actor:   caller,
		Message: name,
	})
	s.log.WithField("name", name).Info("document updated")
	return doc, nil
}

// Get returns one document by name.
func (s *Service) Get(ctx context.Context, name string) (document.Document, error) {
	return s.store.GetDocument(ctx, name)
}

// List returns every document sorted by name.
func (s *Service) List(ctx context.Context) ([]document.Document, error) {
	return s.store.ListDocuments(ctx)
}
