package media

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/studioflow-backend/internal/repo"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

// Filters narrows candidate media for search and listings.
type Filters struct {
	Types    []enums.MediaType
	Statuses []enums.MediaStatus
}

// Scored pairs a media row with its cosine distance to a query vector.
type Scored struct {
	Media    models.Media
	Distance float64
}

// Repository exposes media persistence operations.
type Repository struct {
	repo.Base
}

// NewRepository constructs a media repository bound to the provided GORM DB.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(conn)}
}

// Create persists a media record.
func (r *Repository) Create(ctx context.Context, media *models.Media) (*models.Media, error) {
	if err := r.DB(ctx).Create(media).Error; err != nil {
		return nil, repo.Classify(err, "media")
	}
	return media, nil
}

// FindByID retrieves a media record by ID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	var m models.Media
	if err := r.DB(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, repo.Classify(err, "media")
	}
	return &m, nil
}

// FindByIDs loads the given rows, preserving the order of ids and skipping
// ids that do not exist.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Media, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Media
	if err := r.DB(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, repo.Classify(err, "media")
	}
	byID := make(map[uuid.UUID]models.Media, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	ordered := make([]models.Media, 0, len(rows))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			ordered = append(ordered, row)
		}
	}
	return ordered, nil
}

// FindBySourceFolder returns the recording assembled from a folder.
func (r *Repository) FindBySourceFolder(ctx context.Context, organizationID uuid.UUID, folder string) (*models.Media, error) {
	var m models.Media
	err := r.DB(ctx).
		Where("organization_id = ? AND source_folder = ?", organizationID, folder).
		First(&m).Error
	if err != nil {
		return nil, repo.Classify(err, "media")
	}
	return &m, nil
}

// CreateRecordingIfAbsent inserts m unless a row already exists for its
// (organization, source folder) pair. It always returns the stored row and
// reports whether this call created it.
func (r *Repository) CreateRecordingIfAbsent(ctx context.Context, m *models.Media) (*models.Media, bool, error) {
	if m.SourceFolder == nil || *m.SourceFolder == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "source folder required for recordings")
	}
	res := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "source_folder"}},
			DoNothing: true,
		}).
		Create(m)
	if res.Error != nil {
		return nil, false, repo.Classify(res.Error, "media")
	}
	if res.RowsAffected == 1 {
		return m, true, nil
	}
	existing, err := r.FindBySourceFolder(ctx, m.OrganizationID, *m.SourceFolder)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpdateMedia loads the row inside a transaction, applies fn and saves the
// result. On Postgres the row is locked for the duration.
func (r *Repository) UpdateMedia(ctx context.Context, id uuid.UUID, fn func(*models.Media) error) (*models.Media, error) {
	var out models.Media
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		q := tx
		if r.IsPostgres() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&out, "id = ?", id).Error; err != nil {
			return repo.Classify(err, "media")
		}
		if err := fn(&out); err != nil {
			return err
		}
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, repo.Classify(err, "media")
	}
	return &out, nil
}

// SetStatus moves a media row to status.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status enums.MediaStatus) error {
	return r.updateColumn(ctx, id, "status", status)
}

// SetEmbedding stores the vector column.
func (r *Repository) SetEmbedding(ctx context.Context, id uuid.UUID, vec []float32) error {
	return r.updateColumn(ctx, id, "embedding", pgvector.NewVector(vec))
}

// SetEmbeddingText caches the summary that produced the embedding.
func (r *Repository) SetEmbeddingText(ctx context.Context, id uuid.UUID, text models.EmbeddingText) error {
	return r.updateColumn(ctx, id, "embedding_text", text)
}

func (r *Repository) updateColumn(ctx context.Context, id uuid.UUID, column string, value any) error {
	res := r.DB(ctx).Model(&models.Media{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return repo.Classify(res.Error, "media")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "media not found")
	}
	return nil
}

func (r *Repository) unembedded(ctx context.Context, organizationID uuid.UUID, exclude []uuid.UUID) *gorm.DB {
	q := r.DB(ctx).Model(&models.Media{}).
		Where("organization_id = ? AND embedding IS NULL", organizationID).
		Where("status <> ?", enums.MediaStatusDeleted)
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	return q
}

// CountUnembedded counts media still missing a vector, ignoring exclude.
func (r *Repository) CountUnembedded(ctx context.Context, organizationID uuid.UUID, exclude []uuid.UUID) (int64, error) {
	var n int64
	if err := r.unembedded(ctx, organizationID, exclude).Count(&n).Error; err != nil {
		return 0, repo.Classify(err, "media")
	}
	return n, nil
}

// ListUnembedded returns the oldest media without a vector.
func (r *Repository) ListUnembedded(ctx context.Context, organizationID uuid.UUID, exclude []uuid.UUID, limit int) ([]models.Media, error) {
	var rows []models.Media
	err := r.unembedded(ctx, organizationID, exclude).
		Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, repo.Classify(err, "media")
	}
	return rows, nil
}

// ListOrganizationsWithUnembedded returns organizations that still have
// media waiting for a vector.
func (r *Repository) ListOrganizationsWithUnembedded(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := r.DB(ctx).Model(&models.Media{}).
		Distinct("organization_id").
		Where("embedding IS NULL AND status <> ?", enums.MediaStatusDeleted).
		Order("organization_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("organization_id", &ids).Error; err != nil {
		return nil, repo.Classify(err, "media")
	}
	return ids, nil
}

func applyFilters(q *gorm.DB, f Filters) *gorm.DB {
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.Types)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	} else {
		q = q.Where("status <> ?", enums.MediaStatusDeleted)
	}
	return q
}

type scoredRow struct {
	models.Media
	Distance float64 `gorm:"column:distance"`
}

// NearestByCosine ranks embedded media of one organization by cosine
// distance to query, keeping rows with distance <= maxDistance.
func (r *Repository) NearestByCosine(ctx context.Context, organizationID uuid.UUID, query []float32, f Filters, maxDistance float64, limit int) ([]Scored, error) {
	if r.IsPostgres() {
		return r.nearestPostgres(ctx, organizationID, query, f, maxDistance, limit)
	}
	return r.nearestInProcess(ctx, organizationID, query, f, maxDistance, limit)
}

func (r *Repository) nearestPostgres(ctx context.Context, organizationID uuid.UUID, query []float32, f Filters, maxDistance float64, limit int) ([]Scored, error) {
	vec := pgvector.NewVector(query)
	q := r.DB(ctx).Model(&models.Media{}).
		Select("media.*, embedding <=> ? AS distance", vec).
		Where("organization_id = ? AND embedding IS NOT NULL", organizationID).
		Where("(embedding <=> ?) <= ?", vec, maxDistance)
	q = applyFilters(q, f)

	var rows []scoredRow
	if err := q.Order("distance ASC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, repo.Classify(err, "media")
	}
	out := make([]Scored, 0, len(rows))
	for _, row := range rows {
		out = append(out, Scored{Media: row.Media, Distance: row.Distance})
	}
	return out, nil
}

func (r *Repository) nearestInProcess(ctx context.Context, organizationID uuid.UUID, query []float32, f Filters, maxDistance float64, limit int) ([]Scored, error) {
	var rows []models.Media
	q := applyFilters(r.DB(ctx).Where("organization_id = ? AND embedding IS NOT NULL", organizationID), f)
	if err := q.Find(&rows).Error; err != nil {
		return nil, repo.Classify(err, "media")
	}
	out := make([]Scored, 0, len(rows))
	for _, row := range rows {
		if row.Embedding == nil {
			continue
		}
		d := CosineDistance(query, row.Embedding.Slice())
		if d <= maxDistance {
			out = append(out, Scored{Media: row, Distance: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// KeywordSearch matches text case-insensitively against name, type, tags,
// metadata and the cached summary, newest first.
func (r *Repository) KeywordSearch(ctx context.Context, organizationID uuid.UUID, text string, f Filters, limit int) ([]models.Media, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(text))) + "%"
	var cond string
	if r.IsPostgres() {
		cond = `(name ILIKE @p ESCAPE '\' OR type ILIKE @p ESCAPE '\' OR array_to_string(tags, ' ') ILIKE @p ESCAPE '\'` +
			` OR metadata::text ILIKE @p ESCAPE '\' OR COALESCE(embedding_text->>'summary', '') ILIKE @p ESCAPE '\')`
	} else {
		cond = `(LOWER(name) LIKE @p ESCAPE '\' OR LOWER(type) LIKE @p ESCAPE '\' OR LOWER(COALESCE(tags, '')) LIKE @p ESCAPE '\'` +
			` OR LOWER(metadata) LIKE @p ESCAPE '\' OR LOWER(COALESCE(json_extract(embedding_text, '$.summary'), '')) LIKE @p ESCAPE '\')`
	}

	q := r.DB(ctx).Where("organization_id = ?", organizationID).
		Where(cond, map[string]any{"p": pattern})
	q = applyFilters(q, f)

	var rows []models.Media
	if err := q.Order("updated_at DESC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, repo.Classify(err, "media")
	}
	return rows, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// FindOrganizationBySlug resolves the {company} folder segment.
func (r *Repository) FindOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	var org models.Organization
	if err := r.DB(ctx).First(&org, "slug = ?", slug).Error; err != nil {
		return nil, repo.Classify(err, "organization")
	}
	return &org, nil
}

// FindOrganizationByID loads an organization.
func (r *Repository) FindOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	if err := r.DB(ctx).First(&org, "id = ?", id).Error; err != nil {
		return nil, repo.Classify(err, "organization")
	}
	return &org, nil
}

// CreateOrganization persists an organization.
func (r *Repository) CreateOrganization(ctx context.Context, org *models.Organization) error {
	return repo.Classify(r.DB(ctx).Create(org).Error, "organization")
}
