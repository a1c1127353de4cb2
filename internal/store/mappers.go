package store

import (
	"encoding/json"
	"fmt"

	etaterrors "github.com/harunnryd/etat/internal/errors"
)

// sessionModelToDomain converts a SessionModel (GORM) to Session.
// A progress column that no longer decodes is reported as ErrStorageCorrupt.
func sessionModelToDomain(m SessionModel) (*Session, error) {
	var progress Progress
	if m.Progress != "" {
		if err := json.Unmarshal([]byte(m.Progress), &progress); err != nil {
			return nil, etaterrors.WrapWithCategory(err, fmt.Sprintf("decode progress of session %s", m.ID), etaterrors.ErrStorageCorrupt)
		}
	}
	if progress.LastPath == "" {
		progress.LastPath = m.LastPath
	}
	if progress.Interactions == nil {
		progress.Interactions = []Interaction{}
	}

	return &Session{
		ID:           m.ID,
		TemplateID:   m.TemplateID,
		FlowType:     FlowType(m.FlowType),
		Status:       Status(m.Status),
		Progress:     progress,
		CreatedAt:    m.CreatedAt,
		LastActiveAt: m.LastActiveAt,
		CompletedAt:  m.CompletedAt,
		TerminatedAt: m.TerminatedAt,
	}, nil
}

// domainToSessionModel converts a Session to SessionModel (GORM)
func domainToSessionModel(s *Session) (SessionModel, error) {
	progress, err := json.Marshal(s.Progress)
	if err != nil {
		return SessionModel{}, fmt.Errorf("encode progress of session %s: %w", s.ID, err)
	}

	return SessionModel{
		ID:           s.ID,
		TemplateID:   s.TemplateID,
		FlowType:     string(s.FlowType),
		Status:       string(s.Status),
		LastPath:     s.Progress.LastPath,
		Progress:     string(progress),
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		CompletedAt:  s.CompletedAt,
		TerminatedAt: s.TerminatedAt,
	}, nil
}

func datasetModelToDomain(m DatasetModel) (*DatasetEntry, error) {
	meta := map[string]string{}
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
			return nil, etaterrors.WrapWithCategory(err, fmt.Sprintf("decode metadata of dataset %s", m.TemplateID), etaterrors.ErrStorageCorrupt)
		}
	}
	if !json.Valid(m.Payload) {
		return nil, etaterrors.WrapWithCategory(fmt.Errorf("payload is not valid json"), "dataset "+m.TemplateID, etaterrors.ErrStorageCorrupt)
	}

	return &DatasetEntry{
		TemplateID: m.TemplateID,
		Payload:    json.RawMessage(m.Payload),
		CachedAt:   m.CachedAt,
		Metadata:   meta,
	}, nil
}

func domainToDatasetModel(e *DatasetEntry) (DatasetModel, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return DatasetModel{}, fmt.Errorf("encode metadata of dataset %s: %w", e.TemplateID, err)
	}

	return DatasetModel{
		TemplateID: e.TemplateID,
		Payload:    []byte(e.Payload),
		CachedAt:   e.CachedAt,
		Metadata:   string(encoded),
	}, nil
}
