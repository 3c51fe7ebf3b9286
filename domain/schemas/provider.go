package schemas

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/graphmill/graphmill/pkg/apperror"
	"github.com/graphmill/graphmill/pkg/logger"
)

// Module provides the schema-pack store as the schema provider.
var Module = fx.Module("schemas",
	fx.Provide(
		NewStore,
		func(s *Store) Provider { return s },
	),
)

// SchemaPack is a project's persisted set of extraction schemas. External
// tooling manages pack content; the pipeline only reads the active pack.
type SchemaPack struct {
	bun.BaseModel `bun:"table:kg.schema_packs,alias:sp"`

	ID                  uuid.UUID                     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID           uuid.UUID                     `bun:"project_id,notnull,type:uuid" json:"projectId"`
	Name                string                        `bun:"name,notnull" json:"name"`
	ObjectSchemas       map[string]ObjectSchema       `bun:"object_schemas,type:jsonb" json:"objectSchemas"`
	RelationshipSchemas map[string]RelationshipSchema `bun:"relationship_schemas,type:jsonb" json:"relationshipSchemas"`
	Active              bool                          `bun:"active,notnull,default:true" json:"active"`
	CreatedAt           time.Time                     `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt           time.Time                     `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Store reads and writes schema packs.
type Store struct {
	db  *bun.DB
	log *slog.Logger
}

// NewStore creates the schema-pack store.
func NewStore(db *bun.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log.With(logger.Scope("schemas"))}
}

// GetProjectSchemas returns the project's active pack. A project without a
// pack gets an empty set, which downstream treats as "accept anything" for
// validation and "job config must supply schemas" for extraction.
func (s *Store) GetProjectSchemas(ctx context.Context, projectID string) (*ExtractionSchemas, error) {
	pid, err := uuid.Parse(projectID)
	if err != nil {
		return nil, apperror.NewBadRequest("invalid project id")
	}

	pack := &SchemaPack{}
	err = s.db.NewSelect().Model(pack).
		Where("project_id = ?", pid).
		Where("active").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &ExtractionSchemas{
				ObjectSchemas:       map[string]ObjectSchema{},
				RelationshipSchemas: map[string]RelationshipSchema{},
			}, nil
		}
		return nil, apperror.NewDatabase("load schema pack", err)
	}

	out := &ExtractionSchemas{
		ObjectSchemas:       pack.ObjectSchemas,
		RelationshipSchemas: pack.RelationshipSchemas,
	}
	if out.ObjectSchemas == nil {
		out.ObjectSchemas = map[string]ObjectSchema{}
	}
	if out.RelationshipSchemas == nil {
		out.RelationshipSchemas = map[string]RelationshipSchema{}
	}
	return out, nil
}

// UpsertPack replaces the project's active pack.
func (s *Store) UpsertPack(ctx context.Context, pack *SchemaPack) (*SchemaPack, error) {
	if pack.ProjectID == uuid.Nil {
		return nil, apperror.NewBadRequest("project id is required")
	}
	if pack.Name == "" {
		pack.Name = "default"
	}
	pack.Active = true

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().Model((*SchemaPack)(nil)).
			Set("active = false").
			Set("updated_at = now()").
			Where("project_id = ?", pack.ProjectID).
			Where("active").
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(pack).Returning("*").Exec(ctx)
		return err
	})
	if err != nil {
		return nil, apperror.NewDatabase("upsert schema pack", err)
	}

	s.log.Info("schema pack activated",
		slog.String("project_id", pack.ProjectID.String()),
		slog.String("name", pack.Name),
		slog.Int("object_types", len(pack.ObjectSchemas)))
	return pack, nil
}
