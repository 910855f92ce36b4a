// Package recipe はレシピの一覧・詳細・作成・編集・削除のドメインロジックを提供する。
package recipe

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
	"github.com/hashaatefac/Recipe-Sharing/internal/orchestrator"
	"github.com/hashaatefac/Recipe-Sharing/internal/repository"
	"github.com/hashaatefac/Recipe-Sharing/internal/storage"
)

// Session はセッションストアの読み取り機能。
type Session interface {
	CurrentUser() *model.Identity
}

// Image はレシピに添付する画像ファイル。
type Image struct {
	// Filename はローカルのファイルパス。プレビュー参照にも使う。
	Filename string
	Data     []byte
}

// SaveResult はレシピの作成・更新結果。
type SaveResult struct {
	Recipe *model.Recipe
	// ImageDegraded は画像のアップロードに失敗し、仮の画像で保存したかどうか。
	ImageDegraded bool
	// Notice は利用者に表示する通知。
	Notice string
	// PreviewURL はアップロードできなかった画像のローカルプレビュー参照。
	PreviewURL string
}

// Service はレシピのサービス層。
type Service struct {
	recipes  repository.RecipeRepository
	profiles repository.ProfileRepository
	comments repository.CommentRepository
	likes    repository.LikeRepository
	images   storage.ImageStore
	orch     *orchestrator.Orchestrator
	store    Session
}

// Deps はServiceの依存関係。
type Deps struct {
	Recipes  repository.RecipeRepository
	Profiles repository.ProfileRepository
	Comments repository.CommentRepository
	Likes    repository.LikeRepository
	Images   storage.ImageStore
	Orch     *orchestrator.Orchestrator
	Store    Session
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(d Deps) *Service {
	return &Service{
		recipes:  d.Recipes,
		profiles: d.Profiles,
		comments: d.Comments,
		likes:    d.Likes,
		images:   d.Images,
		orch:     d.Orch,
		store:    d.Store,
	}
}

// List はフィルタに一致するレシピを投稿者名付きで作成日時の降順に返す。
func (s *Service) List(ctx context.Context, filter model.RecipeFilter) ([]*model.RecipeWithAuthor, error) {
	f := filter.Normalize()
	key := fmt.Sprintf("recipes.list:%q:%q:%q", f.Search, f.Category, f.Difficulty)

	recipes, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "recipes.list", Kind: orchestrator.KindRead, Key: key},
		func(ctx context.Context) ([]*model.Recipe, error) {
			return s.recipes.List(ctx, f)
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}
	return s.withAuthors(ctx, recipes), nil
}

// Mine はログイン中ユーザーのレシピを作成日時の降順に返す。
func (s *Service) Mine(ctx context.Context) ([]*model.RecipeWithAuthor, error) {
	user, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}

	recipes, err := orchestrator.Do(ctx, s.orch,
		orchestrator.Op{Name: "recipes.mine", Kind: orchestrator.KindRead, Key: "recipes.mine:" + user.ID},
		func(ctx context.Context) ([]*model.Recipe, error) {
			return s.recipes.ListByOwner(ctx, user.ID)
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}
	return s.withAuthors(ctx, recipes), nil
}

// Detail はレシピ、投稿者名、コメント、いいね状態をまとめて返す。
// それぞれの取得は並行して行う。いいね済みかどうかはログイン中のみ取得する。
func (s *Service) Detail(ctx context.Context, id string) (*model.RecipeDetail, error) {
	if !validID(id) {
		return nil, model.NewRecipeNotFoundError(id)
	}
	if err := s.orch.WaitSession(ctx); err != nil {
		return nil, model.ToAPIError(err)
	}
	user := s.store.CurrentUser()

	var (
		recipe   *model.Recipe
		comments []*model.Comment
		count    int
		liked    bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recipe, err = orchestrator.Do(gctx, s.orch,
			orchestrator.Op{Name: "recipe.get", Kind: orchestrator.KindRead, Key: "recipe.get:" + id},
			func(ctx context.Context) (*model.Recipe, error) { return s.recipes.FindByID(ctx, id) })
		return err
	})
	g.Go(func() error {
		var err error
		comments, err = orchestrator.Do(gctx, s.orch,
			orchestrator.Op{Name: "comments.list", Kind: orchestrator.KindRead, Key: "comments.list:" + id},
			func(ctx context.Context) ([]*model.Comment, error) { return s.comments.ListByRecipe(ctx, id) })
		return err
	})
	g.Go(func() error {
		var err error
		count, err = orchestrator.Do(gctx, s.orch,
			orchestrator.Op{Name: "likes.count", Kind: orchestrator.KindRead, Key: "likes.count:" + id},
			func(ctx context.Context) (int, error) { return s.likes.Count(ctx, id) })
		return err
	})
	if user != nil {
		g.Go(func() error {
			var err error
			liked, err = orchestrator.Do(gctx, s.orch,
				orchestrator.Op{Name: "likes.exists", Kind: orchestrator.KindRead, RequireSession: true},
				func(ctx context.Context) (bool, error) { return s.likes.Exists(ctx, id, user.ID) })
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, model.ToAPIError(err)
	}
	if recipe == nil {
		return nil, model.NewRecipeNotFoundError(id)
	}

	ids := []string{recipe.UserID}
	for _, c := range comments {
		ids = append(ids, c.UserID)
	}
	profiles := s.lookupProfiles(ctx, ids)

	detail := &model.RecipeDetail{
		Recipe:   model.RecipeWithAuthor{Recipe: *recipe, AuthorUsername: profiles[recipe.UserID].DisplayName()},
		Comments: make([]*model.CommentWithAuthor, 0, len(comments)),
		Likes:    model.LikeState{RecipeID: id, Count: count, Liked: liked},
		IsOwner:  user != nil && user.ID == recipe.UserID,
	}
	for _, c := range comments {
		detail.Comments = append(detail.Comments, &model.CommentWithAuthor{
			Comment:        *c,
			AuthorUsername: profiles[c.UserID].DisplayName(),
		})
	}
	return detail, nil
}

// Create はログイン中ユーザーのレシピを作成する。
// 画像のアップロードに失敗した場合は仮の画像で保存し、結果に通知を含める。
func (s *Service) Create(ctx context.Context, in model.RecipeInput, image *Image) (*SaveResult, error) {
	user, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	res := &SaveResult{}
	if err := s.attachImage(ctx, user.ID, &in, image, res); err != nil {
		return nil, err
	}

	created, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "recipe.create", Kind: orchestrator.KindWrite},
		func(ctx context.Context) (*model.Recipe, error) {
			return s.recipes.Create(ctx, user.ID, in)
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}
	res.Recipe = created
	slog.Info("recipe created", slog.String("recipe_id", created.ID), slog.Bool("image_degraded", res.ImageDegraded))
	return res, nil
}

// GetForEdit はログイン中ユーザーが所有するレシピを返す。
// 存在しない場合、他人のレシピの場合は見つからないエラーを返す。
func (s *Service) GetForEdit(ctx context.Context, id string) (*model.Recipe, error) {
	if !validID(id) {
		return nil, model.NewRecipeNotFoundError(id)
	}
	user, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}

	recipe, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "recipe.get_owned", Kind: orchestrator.KindRead},
		func(ctx context.Context) (*model.Recipe, error) {
			return s.recipes.FindOwned(ctx, id, user.ID)
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}
	if recipe == nil {
		return nil, model.NewRecipeNotFoundError(id)
	}
	return recipe, nil
}

// Update はログイン中ユーザーが所有するレシピの内容を置き換える。
func (s *Service) Update(ctx context.Context, id string, in model.RecipeInput, image *Image) (*SaveResult, error) {
	if !validID(id) {
		return nil, model.NewRecipeNotFoundError(id)
	}
	user, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	res := &SaveResult{}
	if err := s.attachImage(ctx, user.ID, &in, image, res); err != nil {
		return nil, err
	}

	updated, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "recipe.update", Kind: orchestrator.KindWrite},
		func(ctx context.Context) (*model.Recipe, error) {
			return s.recipes.Update(ctx, id, user.ID, in)
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}
	if updated == nil {
		return nil, model.NewRecipeNotFoundError(id)
	}
	res.Recipe = updated
	return res, nil
}

// Delete はログイン中ユーザーが所有するレシピを削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return model.NewRecipeNotFoundError(id)
	}
	user, err := s.requireUser(ctx)
	if err != nil {
		return err
	}

	deleted, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "recipe.delete", Kind: orchestrator.KindWrite},
		func(ctx context.Context) (bool, error) {
			return s.recipes.Delete(ctx, id, user.ID)
		})
	if err != nil {
		return model.ToAPIError(err)
	}
	if !deleted {
		return model.NewRecipeNotFoundError(id)
	}
	return nil
}

// attachImage は画像をアップロードし、入力の画像URLを置き換える。
// 失敗または期限切れの場合は仮の画像URLを設定し、res に通知とプレビュー参照を記録する。
func (s *Service) attachImage(ctx context.Context, ownerID string, in *model.RecipeInput, image *Image, res *SaveResult) error {
	if image == nil || s.images == nil {
		return nil
	}
	if len(image.Data) == 0 {
		return model.NewValidationError("image", "画像ファイルが空です。")
	}

	key := storage.NewObjectKey(ownerID, image.Filename)
	contentType := storage.DetectContentType(image.Filename, image.Data)

	out, err := orchestrator.WithFallback(ctx, s.orch, orchestrator.Op{Name: "recipe.image_upload", Kind: orchestrator.KindUpload},
		func(ctx context.Context) (string, error) {
			return s.images.Upload(ctx, key, contentType, image.Data)
		},
		func(error) string { return model.PlaceholderImageURL },
	)
	if err != nil {
		return model.ToAPIError(err)
	}

	u := out.Value
	in.ImageURL = &u
	if out.Degraded {
		res.ImageDegraded = true
		res.PreviewURL = previewURL(image.Filename)
		res.Notice = "画像のアップロードに失敗したため、仮の画像でレシピを保存しました。後で編集から画像を設定し直してください。"
		slog.Warn("image upload failed, saved with placeholder",
			slog.String("key", key),
			slog.String("error", out.Cause.Error()),
		)
	}
	return nil
}

func (s *Service) requireUser(ctx context.Context) (*model.Identity, error) {
	if err := s.orch.WaitSession(ctx); err != nil {
		return nil, model.ToAPIError(err)
	}
	user := s.store.CurrentUser()
	if user == nil {
		return nil, model.NewNotSignedInError()
	}
	return user, nil
}

// withAuthors は投稿者名を解決する。解決できない場合は Unknown とする。
func (s *Service) withAuthors(ctx context.Context, recipes []*model.Recipe) []*model.RecipeWithAuthor {
	ids := make([]string, 0, len(recipes))
	for _, r := range recipes {
		ids = append(ids, r.UserID)
	}
	profiles := s.lookupProfiles(ctx, ids)

	out := make([]*model.RecipeWithAuthor, 0, len(recipes))
	for _, r := range recipes {
		out = append(out, &model.RecipeWithAuthor{Recipe: *r, AuthorUsername: profiles[r.UserID].DisplayName()})
	}
	return out
}

// lookupProfiles はプロフィールをまとめて取得する。失敗した場合は空のマップを返し、
// 投稿者名は Unknown で表示される。
func (s *Service) lookupProfiles(ctx context.Context, ids []string) map[string]*model.Profile {
	profiles, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "profiles.lookup", Kind: orchestrator.KindRead},
		func(ctx context.Context) (map[string]*model.Profile, error) {
			return s.profiles.FindByIDs(ctx, ids)
		})
	if err != nil {
		return map[string]*model.Profile{}
	}
	return profiles
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func previewURL(filename string) string {
	if filename == "" {
		return ""
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		abs = filename
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}
