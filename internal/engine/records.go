package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chronoline/internal/audit"
	"chronoline/internal/schema"
)

// Generic record CRUD for the kinds that carry no workflow of their own.
// Typed entities stay on their dedicated operations.

func (e Engine) genericEntity(kind string) (schema.Entity, error) {
	ent, ok := schema.Lookup(kind)
	if !ok || !ent.Generic {
		return schema.Entity{}, validationErrorf("unknown record kind %s", kind)
	}
	return ent, nil
}

func (e Engine) GetRecord(ctx context.Context, kind, id string) (map[string]any, error) {
	ent, err := e.genericEntity(kind)
	if err != nil {
		return nil, err
	}
	return e.Records.GetRecord(ctx, ent, id)
}

func (e Engine) ListRecords(ctx context.Context, kind string, filters map[string]any, limit int) ([]map[string]any, error) {
	ent, err := e.genericEntity(kind)
	if err != nil {
		return nil, err
	}
	return e.Records.FindRecords(ctx, ent, filters, limit)
}

func (e Engine) CreateRecord(ctx context.Context, kind string, rec map[string]any, actorID string) (map[string]any, error) {
	ent, err := e.genericEntity(kind)
	if err != nil {
		return nil, err
	}
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}
	ts := e.now().UTC().Format(time.RFC3339)
	rec["created_at"] = ts
	if !ent.NoUpdatedAt {
		rec["updated_at"] = ts
	}
	if err := e.Records.InsertRecord(ctx, ent, rec); err != nil {
		return nil, err
	}
	created, err := e.Records.GetRecord(ctx, ent, id)
	if err != nil {
		return nil, err
	}
	if err := e.Audit.Append(ctx, kind+".created", kind, id, actorID, nil); err != nil {
		return nil, err
	}
	return created, nil
}

func (e Engine) UpdateRecord(ctx context.Context, kind, id string, changes map[string]any, actorID string) (map[string]any, error) {
	ent, err := e.genericEntity(kind)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, validationErrorf("no fields to update")
	}
	delete(changes, "id")
	delete(changes, "created_at")
	if !ent.NoUpdatedAt {
		changes["updated_at"] = e.now().UTC().Format(time.RFC3339)
	}
	if err := e.Records.UpdateFields(ctx, ent, id, changes); err != nil {
		return nil, err
	}
	updated, err := e.Records.GetRecord(ctx, ent, id)
	if err != nil {
		return nil, err
	}
	if err := e.Audit.Append(ctx, kind+".updated", kind, id, actorID, audit.Payload{
		"fields": changedColumns(changes),
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

func (e Engine) DeleteRecord(ctx context.Context, kind, id, actorID string) error {
	ent, err := e.genericEntity(kind)
	if err != nil {
		return err
	}
	if err := e.Records.DeleteRecord(ctx, ent, id); err != nil {
		return err
	}
	return e.Audit.Append(ctx, kind+".deleted", kind, id, actorID, nil)
}
