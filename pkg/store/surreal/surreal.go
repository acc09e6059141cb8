// Package surreal implements the live persistent-store adapter on top
// of SurrealDB. Vehicles are documents in the "vehicles" table.
//
// The adapter does no filtering or ordering beyond a stable snapshot
// order: all query semantics live in the query engine, so the fallback
// store and this adapter stay interchangeable.
package surreal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/lotwire/lotwire/pkg/store"
	"github.com/lotwire/lotwire/pkg/vehicle"
)

const table = "vehicles"

// Store is the live inventory backend.
type Store struct {
	db *surrealdb.DB
}

var _ store.Store = (*Store)(nil)

// Config carries the connection parameters for the live backend.
type Config struct {
	// URL is the SurrealDB endpoint, e.g. "ws://localhost:8000".
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// New connects to SurrealDB and selects the configured namespace and
// database.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("surreal: connecting to %s: %w", cfg.URL, err)
	}

	if cfg.Username != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": cfg.Username,
			"pass": cfg.Password,
		}); err != nil {
			return nil, fmt.Errorf("surreal: signing in: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("surreal: selecting namespace/database: %w", err)
	}

	return &Store{db: db}, nil
}

// FromDB wraps an already-connected client. Useful for tests and for
// applications that manage the connection themselves.
func FromDB(db *surrealdb.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close(context.Background())
}

// record is the document shape stored in SurrealDB. time.Time does not
// round-trip through the CBOR protocol; CustomDateTime does.
type record struct {
	ID        *models.RecordID      `json:"id,omitempty"`
	Make      string                `json:"make"`
	Model     string                `json:"model"`
	Year      int                   `json:"year"`
	VIN       string                `json:"vin"`
	Color     string                `json:"color"`
	Status    string                `json:"status"`
	Price     float64               `json:"price"`
	Mileage   int                   `json:"mileage"`
	Note      string                `json:"note,omitempty"`
	CreatedAt models.CustomDateTime `json:"createdAt"`
	UpdatedAt models.CustomDateTime `json:"updatedAt"`
}

func toRecord(v *vehicle.Vehicle) record {
	return record{
		Make:      v.Make,
		Model:     v.Model,
		Year:      v.Year,
		VIN:       v.VIN,
		Color:     v.Color,
		Status:    string(v.Status),
		Price:     v.Price,
		Mileage:   v.Mileage,
		Note:      v.Note,
		CreatedAt: models.CustomDateTime{Time: v.CreatedAt},
		UpdatedAt: models.CustomDateTime{Time: v.UpdatedAt},
	}
}

func toVehicle(r record) vehicle.Vehicle {
	v := vehicle.Vehicle{
		Make:      r.Make,
		Model:     r.Model,
		Year:      r.Year,
		VIN:       r.VIN,
		Color:     r.Color,
		Status:    vehicle.Status(r.Status),
		Price:     r.Price,
		Mileage:   r.Mileage,
		Note:      r.Note,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
	if r.ID != nil {
		v.ID = fmt.Sprint(r.ID.ID)
	}
	return v
}

func recordID(id string) models.RecordID {
	return models.NewRecordID(table, id)
}

// isNotFound reports whether an SDK error means the record is absent.
// The SDK surfaces this as an unmarshaling failure on the empty result
// rather than a typed error.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "single or multiple results but got 0") ||
		strings.Contains(msg, "cannot unmarshal array")
}

// Snapshot returns all vehicles ordered by creation time then id, so
// that an unchanged dataset always produces the identical snapshot.
func (s *Store) Snapshot(ctx context.Context) ([]vehicle.Vehicle, error) {
	result, err := surrealdb.Query[[]record](
		ctx, s.db, "SELECT * FROM type::table($table) ORDER BY createdAt ASC, id ASC",
		map[string]any{"table": table},
	)
	if err != nil {
		return nil, fmt.Errorf("surreal: listing vehicles: %w", err)
	}

	var records []record
	if result != nil && len(*result) > 0 {
		records = (*result)[0].Result
	}

	out := make([]vehicle.Vehicle, 0, len(records))
	for _, r := range records {
		out = append(out, toVehicle(r))
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*vehicle.Vehicle, error) {
	rec, err := surrealdb.Select[record](ctx, s.db, recordID(id))
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("surreal: getting vehicle %s: %w", id, err)
	}
	if rec == nil || rec.ID == nil {
		return nil, store.ErrNotFound
	}
	v := toVehicle(*rec)
	return &v, nil
}

func (s *Store) Create(ctx context.Context, v *vehicle.Vehicle) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	rec := toRecord(v)
	rid := recordID(v.ID)
	rec.ID = &rid

	if _, err := surrealdb.Create[record](ctx, s.db, table, rec); err != nil {
		return fmt.Errorf("surreal: creating vehicle %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, v *vehicle.Vehicle) error {
	existing, err := s.Get(ctx, v.ID)
	if err != nil {
		return err
	}

	v.CreatedAt = existing.CreatedAt
	v.UpdatedAt = time.Now()

	rec := toRecord(v)
	rid := recordID(v.ID)
	rec.ID = &rid

	if _, err := surrealdb.Update[record](ctx, s.db, rid, rec); err != nil {
		return fmt.Errorf("surreal: updating vehicle %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if _, err := surrealdb.Delete[record](ctx, s.db, recordID(id)); err != nil {
		return fmt.Errorf("surreal: deleting vehicle %s: %w", id, err)
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status vehicle.Status, note string) (*vehicle.Vehicle, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	existing.Status = status
	if note != "" {
		existing.Note = note
	}
	if err := s.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}
