package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/picshub/internal/model"
)

const imageColumns = `i.id, i.user_id, i.filename, i.path, COALESCE(i.caption, '') AS caption,
	i.visibility, i.created_at`

// imageRow はimagesテーブル（および所有者JOIN結果）の1行を表す。
// 所有者が削除済みの場合、user_idと所有者カラムはNULLになる。
type imageRow struct {
	ID            string         `db:"id"`
	OwnerID       sql.NullString `db:"user_id"`
	Filename      string         `db:"filename"`
	Path          string         `db:"path"`
	Caption       string         `db:"caption"`
	Visibility    string         `db:"visibility"`
	CreatedAt     time.Time      `db:"created_at"`
	OwnerName     sql.NullString `db:"owner_name"`
	OwnerUsername sql.NullString `db:"owner_username"`
	OwnerAvatar   []byte         `db:"owner_avatar"`
}

func (row *imageRow) toImage() *model.Image {
	return &model.Image{
		ID:         model.ImageID(row.ID),
		OwnerID:    model.UserID(row.OwnerID.String),
		Filename:   row.Filename,
		Path:       row.Path,
		Caption:    row.Caption,
		Visibility: model.Visibility(row.Visibility),
		CreatedAt:  row.CreatedAt,
	}
}

func (row *imageRow) toImageWithOwner() model.ImageWithOwner {
	result := model.ImageWithOwner{Image: *row.toImage()}
	if row.OwnerID.Valid && row.OwnerUsername.Valid {
		result.Owner = &model.ImageOwner{
			ID:       model.UserID(row.OwnerID.String),
			Name:     row.OwnerName.String,
			Username: row.OwnerUsername.String,
			Avatar:   row.OwnerAvatar,
		}
	}
	return result
}

// PostgresImageRepo はPostgreSQLを使用した画像リポジトリ。
// 一覧系クエリの行マッピングにsqlxを使用する。
type PostgresImageRepo struct {
	db *sqlx.DB
}

// NewPostgresImageRepo はPostgresImageRepoを生成する。
func NewPostgresImageRepo(db *sql.DB) *PostgresImageRepo {
	return &PostgresImageRepo{db: sqlx.NewDb(db, "postgres")}
}

// Create は画像を作成する。
func (r *PostgresImageRepo) Create(ctx context.Context, image *model.Image) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO images (id, user_id, filename, path, caption, visibility, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
		string(image.ID), string(image.OwnerID), image.Filename, image.Path,
		image.Caption, string(image.Visibility), image.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}
	return nil
}

// FindByID は指定IDの画像を取得する。見つからない場合はnilを返す。
func (r *PostgresImageRepo) FindByID(ctx context.Context, id model.ImageID) (*model.Image, error) {
	var row imageRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+imageColumns+` FROM images i WHERE i.id = $1`,
		string(id),
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find image: %w", err)
	}
	return row.toImage(), nil
}

// ListPublic は公開画像を所有者情報付きで作成日時の降順に返す。
func (r *PostgresImageRepo) ListPublic(ctx context.Context) ([]model.ImageWithOwner, error) {
	var rows []imageRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+imageColumns+`, u.name AS owner_name, u.username AS owner_username, u.avatar AS owner_avatar
		 FROM images i
		 LEFT JOIN users u ON u.id = i.user_id
		 WHERE i.visibility = $1
		 ORDER BY i.created_at DESC`,
		string(model.VisibilityPublic),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list public images: %w", err)
	}

	result := make([]model.ImageWithOwner, len(rows))
	for i := range rows {
		result[i] = rows[i].toImageWithOwner()
	}
	return result, nil
}

// ListByOwner は指定ユーザーの全画像（非公開を含む）を作成日時の降順に返す。
func (r *PostgresImageRepo) ListByOwner(ctx context.Context, ownerID model.UserID) ([]*model.Image, error) {
	return r.list(ctx,
		`SELECT `+imageColumns+` FROM images i WHERE i.user_id = $1 ORDER BY i.created_at DESC`,
		string(ownerID),
	)
}

// ListPublicByOwner は指定ユーザーの公開画像を作成日時の降順に返す。
func (r *PostgresImageRepo) ListPublicByOwner(ctx context.Context, ownerID model.UserID) ([]*model.Image, error) {
	return r.list(ctx,
		`SELECT `+imageColumns+` FROM images i
		 WHERE i.user_id = $1 AND i.visibility = $2
		 ORDER BY i.created_at DESC`,
		string(ownerID), string(model.VisibilityPublic),
	)
}

func (r *PostgresImageRepo) list(ctx context.Context, query string, args ...interface{}) ([]*model.Image, error) {
	var rows []imageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	result := make([]*model.Image, len(rows))
	for i := range rows {
		result[i] = rows[i].toImage()
	}
	return result, nil
}

// Update はキャプションと公開範囲を更新する。
func (r *PostgresImageRepo) Update(ctx context.Context, image *model.Image) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE images SET caption = NULLIF($2, ''), visibility = $3 WHERE id = $1`,
		string(image.ID), image.Caption, string(image.Visibility),
	)
	if err != nil {
		return fmt.Errorf("failed to update image: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("image not found: %s", image.ID)
	}
	return nil
}

// Delete は指定IDの画像を削除する。
func (r *PostgresImageRepo) Delete(ctx context.Context, id model.ImageID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM images WHERE id = $1`,
		string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ImageRepository = (*PostgresImageRepo)(nil)
