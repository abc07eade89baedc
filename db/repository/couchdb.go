package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"
)

// CouchDBRepository implements FormRepository and DedupRepository over two
// CouchDB databases: "forms" and "crawled_forms".
type CouchDBRepository struct {
	client    *kivik.Client
	formsDB   *kivik.DB
	crawledDB *kivik.DB
}

// Config configures the CouchDB connection.
type Config struct {
	URL      string // e.g. http://localhost:5984
	Username string
	Password string
}

// NewCouchDBRepository connects to CouchDB and ensures the databases this
// repository needs exist.
func NewCouchDBRepository(ctx context.Context, cfg Config) (*CouchDBRepository, error) {
	dsn := cfg.URL
	if cfg.Username != "" {
		dsn = injectCreds(cfg.URL, cfg.Username, cfg.Password)
	}

	client, err := kivik.New("couch", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect couchdb: %w", err)
	}

	r := &CouchDBRepository{client: client}

	r.formsDB, err = ensureDB(ctx, client, "forms")
	if err != nil {
		return nil, err
	}
	r.crawledDB, err = ensureDB(ctx, client, "crawled_forms")
	if err != nil {
		return nil, err
	}

	return r, nil
}

func injectCreds(rawURL, user, pass string) string {
	scheme := "http://"
	rest := rawURL
	if strings.HasPrefix(rawURL, "https://") {
		scheme = "https://"
		rest = strings.TrimPrefix(rawURL, "https://")
	} else if strings.HasPrefix(rawURL, "http://") {
		rest = strings.TrimPrefix(rawURL, "http://")
	}
	return fmt.Sprintf("%s%s:%s@%s", scheme, user, pass, rest)
}

func ensureDB(ctx context.Context, client *kivik.Client, name string) (*kivik.DB, error) {
	exists, err := client.DBExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check db %s: %w", name, err)
	}
	if !exists {
		if err := client.CreateDB(ctx, name); err != nil {
			return nil, fmt.Errorf("create db %s: %w", name, err)
		}
	}
	return client.DB(name), nil
}

// Close releases the underlying connection pool.
func (r *CouchDBRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

type formDoc struct {
	FormSchema
	ID  string `json:"_id"`
	Rev string `json:"_rev,omitempty"`
}

// UpsertForm creates or updates the FormSchema under its form_id, preserving
// the CouchDB revision across re-processing of the same event.
func (r *CouchDBRepository) UpsertForm(ctx context.Context, form *FormSchema) error {
	existingRev := ""
	row := r.formsDB.Get(ctx, form.FormID)
	var existing formDoc
	if err := row.ScanDoc(&existing); err == nil {
		existingRev = existing.Rev
	}

	doc := formDoc{FormSchema: *form, ID: form.FormID, Rev: existingRev}
	_, err := r.formsDB.Put(ctx, form.FormID, doc)
	if err != nil {
		return fmt.Errorf("upsert form %s: %w", form.FormID, err)
	}
	return nil
}

// GetForm fetches a FormSchema by form_id.
func (r *CouchDBRepository) GetForm(ctx context.Context, formID string) (*FormSchema, error) {
	row := r.formsDB.Get(ctx, formID)
	var doc formDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get form %s: %w", formID, err)
	}
	doc.FormSchema.FormID = doc.ID
	doc.FormSchema.Rev = doc.Rev
	return &doc.FormSchema, nil
}

// ListForms returns every stored FormSchema.
func (r *CouchDBRepository) ListForms(ctx context.Context) ([]*FormSchema, error) {
	rows := r.formsDB.AllDocs(ctx, kivik.Params(map[string]interface{}{"include_docs": true}))
	defer rows.Close()

	var forms []*FormSchema
	for rows.Next() {
		var doc formDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		doc.FormSchema.FormID = doc.ID
		doc.FormSchema.Rev = doc.Rev
		forms = append(forms, &doc.FormSchema)
	}
	return forms, rows.Err()
}

type crawledDoc struct {
	CrawledDocument
	ID  string `json:"_id"`
	Rev string `json:"_rev,omitempty"`
}

func dedupID(url, contentHash string) string {
	return fmt.Sprintf("%s:%s", url, contentHash)
}

// InsertIfAbsent uses the (url, hash) tuple as the document id, so a second
// concurrent insert for the same pair fails CouchDB's own uniqueness check
// rather than racing in application code.
func (r *CouchDBRepository) InsertIfAbsent(ctx context.Context, doc *CrawledDocument) error {
	id := dedupID(doc.URL, doc.ContentHash)
	record := crawledDoc{CrawledDocument: *doc, ID: id}
	_, err := r.crawledDB.Put(ctx, id, record)
	if err != nil {
		if kivik.HTTPStatus(err) == 409 {
			return ErrConflict
		}
		return fmt.Errorf("insert dedup record: %w", err)
	}
	return nil
}

// FindByHash looks up a CrawledDocument by its dedup key.
func (r *CouchDBRepository) FindByHash(ctx context.Context, url, contentHash string) (*CrawledDocument, error) {
	id := dedupID(url, contentHash)
	row := r.crawledDB.Get(ctx, id)
	var doc crawledDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find dedup record: %w", err)
	}
	return &doc.CrawledDocument, nil
}

// TouchLastChecked advances last_checked_at on an existing dedup record.
func (r *CouchDBRepository) TouchLastChecked(ctx context.Context, url, contentHash string, at time.Time) error {
	id := dedupID(url, contentHash)
	row := r.crawledDB.Get(ctx, id)
	var doc crawledDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return ErrNotFound
		}
		return fmt.Errorf("touch dedup record: %w", err)
	}
	doc.LastCheckedAt = at
	_, err := r.crawledDB.Put(ctx, id, doc)
	if err != nil {
		return fmt.Errorf("touch dedup record: %w", err)
	}
	return nil
}
