// Package store is the shared SQL implementation behind reconcile.Store,
// recorder.Store and orchestrator.Store: a database/sql handle wrapped in
// narrow, hand-written query methods rather than an ORM.
// internal/store/factory selects between the Dolt-backed (production) and
// embedded-SQLite (single-process/test) backends.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jdp1ps/svp-harvester-go/internal/errs"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// Queries wraps a database/sql handle and implements reconcile.Store,
// recorder.Store and orchestrator.Store against it. It is backend-agnostic:
// Dolt (MySQL wire protocol) and embedded SQLite both understand the `?`
// placeholder style and the schema in schema.go.
type Queries struct {
	db *sql.DB
}

// New wraps an already-opened *sql.DB. Callers obtain db from
// internal/store/factory, which also applies Migrate.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Migrate applies the full schema. It is idempotent (CREATE TABLE/INDEX
// IF NOT EXISTS throughout) and needs no version table: there is exactly
// one schema revision to reach, not an ordered history of deltas, because
// this module owns its schema from scratch.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// classifyErr converts a conflict-shaped driver error into errs.ErrConflict
// so callers can branch on errs.IsConflict regardless of backend. Dolt
// speaks the MySQL wire protocol (error text "Duplicate entry"); the
// embedded SQLite driver reports "UNIQUE constraint failed".
func classifyErr(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE") {
		return errs.New(errs.DatabaseConnection, op, fmt.Errorf("%w: %v", errs.ErrConflict, err))
	}
	return errs.WrapDB(op, err)
}

func newID() string { return uuid.NewString() }

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON[T any](data []byte, out *T) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// ---- entities (reconcile.Store) ----

func (q *Queries) FindEntityByIdentifiers(ctx context.Context, ids []types.Identifier) (*types.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)*2)
	for i, id := range ids {
		placeholders[i] = "(id_type = ? AND id_value = ?)"
		args = append(args, string(id.Type), id.Value)
	}
	query := fmt.Sprintf(`SELECT DISTINCT entity_id FROM entity_identifiers WHERE %s LIMIT 1`, strings.Join(placeholders, " OR "))
	var entityID string
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&entityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyErr("find entity by identifiers", err)
	}
	return q.loadEntity(ctx, entityID)
}

func (q *Queries) FindEntityByName(ctx context.Context, firstName, lastName string) (*types.Entity, error) {
	var entityID string
	err := q.db.QueryRowContext(ctx,
		`SELECT id FROM entities WHERE first_name = ? AND last_name = ? LIMIT 1`,
		firstName, lastName,
	).Scan(&entityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyErr("find entity by name", err)
	}
	return q.loadEntity(ctx, entityID)
}

func (q *Queries) loadEntity(ctx context.Context, id string) (*types.Entity, error) {
	var e types.Entity
	e.ID = id
	var typ string
	err := q.db.QueryRowContext(ctx,
		`SELECT type, name, first_name, last_name FROM entities WHERE id = ?`, id,
	).Scan(&typ, &e.Name, &e.FirstName, &e.LastName)
	if err != nil {
		return nil, classifyErr("load entity", err)
	}
	e.Type = types.EntityType(typ)

	rows, err := q.db.QueryContext(ctx, `SELECT id_type, id_value FROM entity_identifiers WHERE entity_id = ?`, id)
	if err != nil {
		return nil, classifyErr("load entity identifiers", err)
	}
	defer rows.Close()
	for rows.Next() {
		var idType, idValue string
		if err := rows.Scan(&idType, &idValue); err != nil {
			return nil, classifyErr("scan entity identifier", err)
		}
		e.Identifiers = append(e.Identifiers, types.Identifier{Type: types.IdentifierType(idType), Value: idValue})
	}
	return &e, rows.Err()
}

func (q *Queries) InsertEntity(ctx context.Context, e types.Entity) (types.Entity, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Entity{}, classifyErr("begin insert entity", err)
	}
	defer tx.Rollback()

	if e.ID == "" {
		e.ID = newID()
	}
	if e.Type == "" {
		e.Type = types.EntityPerson
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entities (id, type, name, first_name, last_name) VALUES (?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Name, e.FirstName, e.LastName,
	); err != nil {
		return types.Entity{}, classifyErr("insert entity", err)
	}
	for _, id := range e.Identifiers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_identifiers (entity_id, id_type, id_value) VALUES (?, ?, ?)`,
			e.ID, string(id.Type), id.Value,
		); err != nil {
			return types.Entity{}, classifyErr("insert entity identifier", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return types.Entity{}, classifyErr("commit insert entity", err)
	}
	return e, nil
}

// UpdateEntity refreshes an entity's mutable attributes and extends its
// identifier set; identifier rows are inserted with the same uniqueness the
// initial insert enforces, ignoring the ones already present.
func (q *Queries) UpdateEntity(ctx context.Context, e types.Entity) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyErr("begin update entity", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET name = ?, first_name = ?, last_name = ? WHERE id = ?`,
		e.Name, e.FirstName, e.LastName, e.ID,
	); err != nil {
		return classifyErr("update entity", err)
	}
	for _, id := range e.Identifiers {
		var n int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM entity_identifiers WHERE id_type = ? AND id_value = ?`,
			string(id.Type), id.Value,
		).Scan(&n)
		if err != nil {
			return classifyErr("check entity identifier", err)
		}
		if n > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_identifiers (entity_id, id_type, id_value) VALUES (?, ?, ?)`,
			e.ID, string(id.Type), id.Value,
		); err != nil {
			return classifyErr("insert entity identifier", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classifyErr("commit update entity", err)
	}
	return nil
}

// ---- contributors ----

func (q *Queries) FindContributor(ctx context.Context, key string) (*types.Contributor, error) {
	var c types.Contributor
	var variants, structured, identifiers []byte
	err := q.db.QueryRowContext(ctx,
		`SELECT id, source, source_identifier, name, first_name, last_name, name_variants, structured_name_variants, identifiers
		 FROM contributors WHERE lookup_key = ?`, key,
	).Scan(&c.ID, &c.Source, &c.SourceIdentifier, &c.Name, &c.FirstName, &c.LastName, &variants, &structured, &identifiers)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyErr("find contributor", err)
	}
	if err := unmarshalJSON(variants, &c.NameVariants); err != nil {
		return nil, fmt.Errorf("decode name_variants: %w", err)
	}
	if err := unmarshalJSON(structured, &c.StructuredNameVariants); err != nil {
		return nil, fmt.Errorf("decode structured_name_variants: %w", err)
	}
	if err := unmarshalJSON(identifiers, &c.Identifiers); err != nil {
		return nil, fmt.Errorf("decode contributor identifiers: %w", err)
	}
	return &c, nil
}

func (q *Queries) InsertContributor(ctx context.Context, c types.Contributor) (types.Contributor, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	variants, err := marshalJSON(c.NameVariants)
	if err != nil {
		return types.Contributor{}, err
	}
	structured, err := marshalJSON(c.StructuredNameVariants)
	if err != nil {
		return types.Contributor{}, err
	}
	identifiers, err := marshalJSON(c.Identifiers)
	if err != nil {
		return types.Contributor{}, err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO contributors (id, lookup_key, source, source_identifier, name, first_name, last_name, name_variants, structured_name_variants, identifiers)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Key(), c.Source, c.SourceIdentifier, c.Name, c.FirstName, c.LastName, variants, structured, identifiers,
	)
	if err != nil {
		return types.Contributor{}, classifyErr("insert contributor", err)
	}
	return c, nil
}

func (q *Queries) UpdateContributor(ctx context.Context, c types.Contributor) error {
	variants, err := marshalJSON(c.NameVariants)
	if err != nil {
		return err
	}
	structured, err := marshalJSON(c.StructuredNameVariants)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`UPDATE contributors SET name = ?, first_name = ?, last_name = ?, name_variants = ?, structured_name_variants = ? WHERE id = ?`,
		c.Name, c.FirstName, c.LastName, variants, structured, c.ID,
	)
	return classifyErr("update contributor", err)
}

// ---- concepts ----

func (q *Queries) FindConcept(ctx context.Context, key string) (*types.Concept, error) {
	var c types.Concept
	var labels []byte
	err := q.db.QueryRowContext(ctx,
		`SELECT id, uri, labels FROM concepts WHERE lookup_key = ?`, key,
	).Scan(&c.ID, &c.URI, &labels)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyErr("find concept", err)
	}
	if err := unmarshalJSON(labels, &c.Labels); err != nil {
		return nil, fmt.Errorf("decode concept labels: %w", err)
	}
	return &c, nil
}

func (q *Queries) InsertConcept(ctx context.Context, c types.Concept) (types.Concept, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	key, ok := c.Key()
	if !ok {
		return types.Concept{}, errs.New(errs.ReferenceValidation, "insert concept", fmt.Errorf("concept has neither uri nor labels"))
	}
	labels, err := marshalJSON(c.Labels)
	if err != nil {
		return types.Concept{}, err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO concepts (id, lookup_key, uri, labels) VALUES (?, ?, ?, ?)`,
		c.ID, key, c.URI, labels,
	)
	if err != nil {
		return types.Concept{}, classifyErr("insert concept", err)
	}
	return c, nil
}

// ---- source entities (organizations, journals, issues, books, document types) ----

func (q *Queries) FindSourceEntity(ctx context.Context, table, key string) (*types.SourceEntity, error) {
	source, sourceIdentifier, ok := strings.Cut(key, "\x00")
	if !ok {
		return nil, errs.New(errs.ReferenceValidation, "find source entity", fmt.Errorf("malformed lookup key %q", key))
	}
	var e types.SourceEntity
	var identifiers []byte
	err := q.db.QueryRowContext(ctx,
		`SELECT id, source, source_identifier, name, identifiers FROM source_entities WHERE entity_table = ? AND source = ? AND source_identifier = ?`,
		table, source, sourceIdentifier,
	).Scan(&e.ID, &e.Source, &e.SourceIdentifier, &e.Name, &identifiers)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyErr("find source entity", err)
	}
	if err := unmarshalJSON(identifiers, &e.Identifiers); err != nil {
		return nil, fmt.Errorf("decode source entity identifiers: %w", err)
	}
	return &e, nil
}

func (q *Queries) InsertSourceEntity(ctx context.Context, table string, e types.SourceEntity) (types.SourceEntity, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	identifiers, err := marshalJSON(e.Identifiers)
	if err != nil {
		return types.SourceEntity{}, err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO source_entities (id, entity_table, source, source_identifier, name, identifiers) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, table, e.Source, e.SourceIdentifier, e.Name, identifiers,
	)
	if err != nil {
		return types.SourceEntity{}, classifyErr("insert source entity", err)
	}
	return e, nil
}

func (q *Queries) UpdateSourceEntity(ctx context.Context, table string, e types.SourceEntity) error {
	identifiers, err := marshalJSON(e.Identifiers)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`UPDATE source_entities SET name = ?, identifiers = ? WHERE id = ? AND entity_table = ?`,
		e.Name, identifiers, e.ID, table,
	)
	return classifyErr("update source entity", err)
}

func (q *Queries) FindSourceEntityByAnyIdentifier(ctx context.Context, table string, ids []types.Identifier) (*types.SourceEntity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.db.QueryContext(ctx, `SELECT id, source, source_identifier, name, identifiers FROM source_entities WHERE entity_table = ?`, table)
	if err != nil {
		return nil, classifyErr("scan source entities", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e types.SourceEntity
		var identifiers []byte
		if err := rows.Scan(&e.ID, &e.Source, &e.SourceIdentifier, &e.Name, &identifiers); err != nil {
			return nil, classifyErr("scan source entity", err)
		}
		if err := unmarshalJSON(identifiers, &e.Identifiers); err != nil {
			return nil, fmt.Errorf("decode source entity identifiers: %w", err)
		}
		if types.SharesIdentifier(e.Identifiers, ids) {
			return &e, rows.Err()
		}
	}
	return nil, rows.Err()
}

// ---- references / reference events (recorder.Store) ----

func (q *Queries) LastReference(ctx context.Context, harvester, sourceIdentifier string) (*types.Reference, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, harvester_version, hash, version, titles, subtitles, abstracts, subjects,
		       contributions, document_types, identifiers, manifestations, issue_ref, book_ref,
		       page, created_at, issued_at, raw_issued
		FROM references_
		WHERE harvester = ? AND source_identifier = ?
		ORDER BY version DESC LIMIT 1`, harvester, sourceIdentifier)
	r, err := scanReference(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyErr("last reference", err)
	}
	r.Harvester = harvester
	r.SourceIdentifier = sourceIdentifier
	return r, nil
}

func scanReference(row *sql.Row) (*types.Reference, error) {
	var r types.Reference
	var titles, subtitles, abstracts, subjects, contributions, docTypes, identifiers, manifestations, issueRef, bookRef []byte
	var created, issued sql.NullTime
	err := row.Scan(&r.ID, &r.HarvesterVersion, &r.Hash, &r.Version, &titles, &subtitles, &abstracts, &subjects,
		&contributions, &docTypes, &identifiers, &manifestations, &issueRef, &bookRef,
		&r.Page, &created, &issued, &r.RawIssued)
	if err != nil {
		return nil, err
	}
	for name, pair := range map[string]struct {
		data []byte
		out  any
	}{
		"titles": {titles, &r.Titles}, "subtitles": {subtitles, &r.Subtitles}, "abstracts": {abstracts, &r.Abstracts},
		"subjects": {subjects, &r.Subjects}, "contributions": {contributions, &r.Contributions},
		"document_types": {docTypes, &r.DocumentTypes}, "identifiers": {identifiers, &r.Identifiers},
		"manifestations": {manifestations, &r.Manifestations},
	} {
		if len(pair.data) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.data, pair.out); err != nil {
			return nil, fmt.Errorf("decode reference %s: %w", name, err)
		}
	}
	if len(issueRef) > 0 {
		if err := json.Unmarshal(issueRef, &r.Issue); err != nil {
			return nil, fmt.Errorf("decode reference issue: %w", err)
		}
	}
	if len(bookRef) > 0 {
		if err := json.Unmarshal(bookRef, &r.Book); err != nil {
			return nil, fmt.Errorf("decode reference book: %w", err)
		}
	}
	if created.Valid {
		r.Created = &created.Time
	}
	if issued.Valid {
		r.Issued = &issued.Time
	}
	return &r, nil
}

func (q *Queries) PersistReference(ctx context.Context, ref types.Reference) (types.Reference, error) {
	if ref.ID == "" {
		ref.ID = newID()
	}
	titles, _ := marshalJSON(ref.Titles)
	subtitles, _ := marshalJSON(ref.Subtitles)
	abstracts, _ := marshalJSON(ref.Abstracts)
	subjects, _ := marshalJSON(ref.Subjects)
	contributions, _ := marshalJSON(ref.Contributions)
	docTypes, _ := marshalJSON(ref.DocumentTypes)
	identifiers, _ := marshalJSON(ref.Identifiers)
	manifestations, _ := marshalJSON(ref.Manifestations)
	issueRef, _ := marshalJSON(ref.Issue)
	bookRef, _ := marshalJSON(ref.Book)

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO references_ (id, harvester, source_identifier, harvester_version, hash, version,
		                         titles, subtitles, abstracts, subjects, contributions, document_types,
		                         identifiers, manifestations, issue_ref, book_ref, page, created_at, issued_at, raw_issued)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, ref.Harvester, ref.SourceIdentifier, ref.HarvesterVersion, ref.Hash, ref.Version,
		titles, subtitles, abstracts, subjects, contributions, docTypes,
		identifiers, manifestations, issueRef, bookRef, ref.Page, nullableTime(ref.Created), nullableTime(ref.Issued), ref.RawIssued,
	)
	if err != nil {
		return types.Reference{}, classifyErr("persist reference", err)
	}
	return ref, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (q *Queries) SourceIdentifiersSeenInPreviousHarvest(ctx context.Context, harvester string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT DISTINCT source_identifier FROM references_
		WHERE harvester = ? AND source_identifier NOT IN (
			SELECT re.source_identifier FROM reference_events re
			JOIN harvestings h ON h.id = re.harvesting_id
			WHERE re.event_type = 'deleted' AND h.harvester = ?
		)`, harvester, harvester)
	if err != nil {
		return nil, classifyErr("source identifiers seen in previous harvest", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, classifyErr("scan source identifier", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *Queries) EventAlreadyEmitted(ctx context.Context, harvestingID, sourceIdentifier string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reference_events WHERE harvesting_id = ? AND source_identifier = ?`,
		harvestingID, sourceIdentifier,
	).Scan(&n)
	if err != nil {
		return false, classifyErr("event already emitted", err)
	}
	return n > 0, nil
}

func (q *Queries) PersistEvent(ctx context.Context, sourceIdentifier string, ev types.ReferenceEvent) (types.ReferenceEvent, error) {
	if ev.ID == "" {
		ev.ID = newID()
	}
	enhanced := 0
	if ev.Enhanced {
		enhanced = 1
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO reference_events (id, harvesting_id, reference_id, source_identifier, event_type, enhanced) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.HarvestingID, ev.ReferenceID, sourceIdentifier, string(ev.Type), enhanced,
	)
	if err != nil {
		return types.ReferenceEvent{}, classifyErr("persist reference event", err)
	}
	return ev, nil
}

// ---- retrievals / harvestings (orchestrator.Store) ----

func (q *Queries) CreateRetrieval(ctx context.Context, r types.Retrieval) (types.Retrieval, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO retrievals (id, entity_id, created_at) VALUES (?, ?, ?)`,
		r.ID, r.EntityID, r.Timestamp,
	)
	if err != nil {
		return types.Retrieval{}, classifyErr("create retrieval", err)
	}
	return r, nil
}

func (q *Queries) CreateHarvesting(ctx context.Context, h types.Harvesting) (types.Harvesting, error) {
	if h.ID == "" {
		h.ID = newID()
	}
	errsJSON, err := marshalJSON(h.Errors)
	if err != nil {
		return types.Harvesting{}, err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO harvestings (id, retrieval_id, harvester, state, updated_at, harvest_errors) VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.RetrievalID, h.Harvester, string(h.State), h.Timestamp, errsJSON,
	)
	if err != nil {
		return types.Harvesting{}, classifyErr("create harvesting", err)
	}
	return h, nil
}

func (q *Queries) UpdateHarvesting(ctx context.Context, h types.Harvesting) error {
	errsJSON, err := marshalJSON(h.Errors)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`UPDATE harvestings SET state = ?, updated_at = ?, harvest_errors = ? WHERE id = ?`,
		string(h.State), h.Timestamp, errsJSON, h.ID,
	)
	return classifyErr("update harvesting", err)
}
