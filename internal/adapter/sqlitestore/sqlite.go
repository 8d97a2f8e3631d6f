// Package sqlitestore is a CollectionStore backed by a single SQLite file,
// using the pure Go modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"csvsearch/internal/adapter/store"
	"csvsearch/internal/domain"
	"csvsearch/internal/port"
)

var _ port.CollectionStore = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serialises writers and keeps pragmas on a single handle.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) CreateCollection(ctx context.Context, spec domain.CollectionSpec) (domain.CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.CollectionInfo{}, err
	}
	spec, err := store.NormalizeSpec(spec)
	if err != nil {
		return domain.CollectionInfo{}, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections(name, dimension, metric, model, source, created_at, next_seq)
		 VALUES(?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(name) DO NOTHING`,
		spec.Name, spec.Dimension, spec.Metric, spec.Model, spec.Source,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return domain.CollectionInfo{}, fmt.Errorf("creating collection %s: %w", spec.Name, err)
	}
	return s.GetCollection(ctx, spec.Name)
}

func (s *Store) GetCollection(ctx context.Context, name string) (domain.CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.CollectionInfo{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT c.name, c.dimension, c.metric, c.model, c.source, c.created_at,
		        (SELECT COUNT(*) FROM records r WHERE r.collection = c.name)
		 FROM collections c WHERE c.name = ?`, name)
	info, err := scanInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CollectionInfo{}, store.NotFound(name)
	}
	return info, err
}

func (s *Store) Upsert(ctx context.Context, collection string, ids []string, vectors [][]float32, texts []string, metadatas []map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var dimension int
	var nextSeq int64
	err = tx.QueryRowContext(ctx, `SELECT dimension, next_seq FROM collections WHERE name = ?`, collection).
		Scan(&dimension, &nextSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NotFound(collection)
	}
	if err != nil {
		return err
	}
	if err := store.ValidateBatch(dimension, ids, vectors, texts, metadatas); err != nil {
		return err
	}

	for i, id := range ids {
		var seq int64
		err := tx.QueryRowContext(ctx, `SELECT seq FROM records WHERE collection = ? AND id = ?`, collection, id).Scan(&seq)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			seq = nextSeq
			nextSeq++
		case err != nil:
			return err
		}

		meta, err := encodeMetadata(metadatas[i])
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records(collection, id, seq, text, metadata, vector)
			 VALUES(?, ?, ?, ?, ?, ?)
			 ON CONFLICT(collection, id) DO UPDATE SET
			   text = excluded.text, metadata = excluded.metadata, vector = excluded.vector`,
			collection, id, seq, texts[i], meta, encodeVector(vectors[i]))
		if err != nil {
			return fmt.Errorf("writing record %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE collections SET next_seq = ? WHERE name = ?`, nextSeq, collection); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Query(ctx context.Context, collection string, vector []float32, k int) ([]domain.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var dimension int
	var metric string
	err := s.db.QueryRowContext(ctx, `SELECT dimension, metric FROM collections WHERE name = ?`, collection).
		Scan(&dimension, &metric)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(collection)
	}
	if err != nil {
		return nil, err
	}
	if err := store.ValidateQuery(dimension, vector); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, text, metadata, vector FROM records WHERE collection = ?`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cands []store.Candidate
	for rows.Next() {
		var (
			id, text string
			seq      int64
			meta     sql.NullString
			blob     []byte
		)
		if err := rows.Scan(&id, &seq, &text, &meta, &blob); err != nil {
			return nil, err
		}
		metadata, err := decodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("corrupt metadata for %s: %w", id, err)
		}
		vec := decodeVector(blob)
		cands = append(cands, store.Candidate{
			Seq:    uint64(seq),
			Record: domain.Record{ID: id, Text: text, Metadata: metadata, Vector: vec},
			Score:  store.Similarity(metric, vector, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return store.Rank(cands, k), nil
}

func (s *Store) ListCollections(ctx context.Context) ([]domain.CollectionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.name, c.dimension, c.metric, c.model, c.source, c.created_at,
		        (SELECT COUNT(*) FROM records r WHERE r.collection = c.name)
		 FROM collections c ORDER BY c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	infos := []domain.CollectionInfo{}
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return store.NotFound(name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInfo(row scanner) (domain.CollectionInfo, error) {
	var info domain.CollectionInfo
	var created string
	if err := row.Scan(&info.Name, &info.Dimension, &info.Metric, &info.Model, &info.Source, &created, &info.Count); err != nil {
		return info, err
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		info.CreatedAt = t
	}
	return info, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

func encodeMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeMetadata(ns sql.NullString) (map[string]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
