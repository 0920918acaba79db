// Package catalog exposes the clinic's read-only reference data: the
// services on offer and the professionals who perform them. The booking
// subsystem only reads this data; administration happens elsewhere.
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested service or professional does not exist.
var ErrNotFound = errors.New("catalog: not found")

// Service is a bookable procedure.
type Service struct {
	ID          string
	Name        string
	DurationMin int
	Active      bool
}

// Professional performs one or more services.
type Professional struct {
	ID         string
	Name       string
	ServiceIDs []string
	Active     bool
}

// Offers reports whether the professional performs the given service.
func (p Professional) Offers(serviceID string) bool {
	for _, id := range p.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// Directory is the read-only lookup surface used by the booking engine
// and the field extractor.
type Directory interface {
	GetService(ctx context.Context, id string) (*Service, error)
	GetProfessional(ctx context.Context, id string) (*Professional, error)

	// FindServices returns every active service whose name matches the
	// free-text query. More than one result means the query is ambiguous;
	// callers must never pick silently.
	FindServices(ctx context.Context, query string) ([]Service, error)

	// FindProfessionals behaves like FindServices for professionals.
	FindProfessionals(ctx context.Context, query string) ([]Professional, error)

	// ListProfessionals returns the active professionals offering a service.
	ListProfessionals(ctx context.Context, serviceID string) ([]Professional, error)
}

// InMemoryDirectory holds reference data in memory. Used in tests and
// for single-clinic deployments that load the catalog at startup.
type InMemoryDirectory struct {
	services      []Service
	professionals []Professional
}

// NewInMemoryDirectory builds a directory from static data.
func NewInMemoryDirectory(services []Service, professionals []Professional) *InMemoryDirectory {
	return &InMemoryDirectory{services: services, professionals: professionals}
}

func (d *InMemoryDirectory) GetService(_ context.Context, id string) (*Service, error) {
	for i := range d.services {
		if d.services[i].ID == id {
			svc := d.services[i]
			return &svc, nil
		}
	}
	return nil, ErrNotFound
}

func (d *InMemoryDirectory) GetProfessional(_ context.Context, id string) (*Professional, error) {
	for i := range d.professionals {
		if d.professionals[i].ID == id {
			pro := d.professionals[i]
			return &pro, nil
		}
	}
	return nil, ErrNotFound
}

func (d *InMemoryDirectory) FindServices(_ context.Context, query string) ([]Service, error) {
	var out []Service
	for _, svc := range d.services {
		if svc.Active && NameMatches(query, svc.Name) {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (d *InMemoryDirectory) FindProfessionals(_ context.Context, query string) ([]Professional, error) {
	var out []Professional
	for _, pro := range d.professionals {
		if pro.Active && NameMatches(query, pro.Name) {
			out = append(out, pro)
		}
	}
	return out, nil
}

func (d *InMemoryDirectory) ListProfessionals(_ context.Context, serviceID string) ([]Professional, error) {
	var out []Professional
	for _, pro := range d.professionals {
		if pro.Active && pro.Offers(serviceID) {
			out = append(out, pro)
		}
	}
	return out, nil
}

var _ Directory = (*InMemoryDirectory)(nil)
