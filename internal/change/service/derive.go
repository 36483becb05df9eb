package service

import (
	"errors"
	"fmt"

	"changegate/internal/change/models"
	"changegate/internal/change/ports"
)

var (
	ErrEntityExists  = errors.New("entity already exists")
	ErrEntityMissing = errors.New("entity does not exist")
)

// DefaultDeriver creates from the payload, merges the payload into the prior
// fields on update (a nil value removes the field), and tombstones on delete.
// Every derived state bumps the version.
var DefaultDeriver ports.Deriver = ports.DeriverFunc(deriveNext)

func deriveNext(prior models.EntityState, req models.ChangeRequest) (models.EntityState, error) {
	next := models.EntityState{
		Kind:     req.Kind,
		EntityID: req.EntityID,
		Version:  prior.Version + 1,
	}

	switch req.Operation {
	case models.OperationCreate:
		if prior.Exists {
			return models.EntityState{}, fmt.Errorf("create %s: %w", req.EntityKey(), ErrEntityExists)
		}
		next.Exists = true
		next.Fields = dropNil(req.Payload.Clone())
	case models.OperationUpdate:
		if !prior.Exists {
			return models.EntityState{}, fmt.Errorf("update %s: %w", req.EntityKey(), ErrEntityMissing)
		}
		next.Exists = true
		next.Fields = prior.Fields.Clone()
		if next.Fields == nil {
			next.Fields = models.Fields{}
		}
		for k, v := range req.Payload {
			if v == nil {
				delete(next.Fields, k)
				continue
			}
			next.Fields[k] = v
		}
	case models.OperationDelete:
		if !prior.Exists {
			return models.EntityState{}, fmt.Errorf("delete %s: %w", req.EntityKey(), ErrEntityMissing)
		}
	default:
		return models.EntityState{}, fmt.Errorf("unsupported operation %q", req.Operation)
	}
	return next, nil
}

func dropNil(f models.Fields) models.Fields {
	for k, v := range f {
		if v == nil {
			delete(f, k)
		}
	}
	return f
}
