package model

import (
	"slices"
	"strings"
	"time"
)

// Difficulty はレシピの難易度を表す。
type Difficulty string

// 難易度の定義済み値
const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// Valid は定義済みの難易度かどうかを返す。
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// レシピ作成・一覧フィルタで使う定数
const (
	DefaultCategory   = "Breakfast"
	DefaultDifficulty = DifficultyEasy

	// AllCategories と AllDifficulties はフィルタ未指定を表すセンチネル値。
	AllCategories   = "All Categories"
	AllDifficulties = "All Difficulties"

	// PlaceholderImageURL は画像アップロード失敗時に保存するプレースホルダー参照。
	PlaceholderImageURL = "placeholder://recipe-image"
)

// Categories は作成・編集時に選択できるカテゴリ。
var Categories = []string{
	"Breakfast",
	"Lunch",
	"Dinner",
	"Dessert",
	"Vegetarian",
	"Quick & Easy",
	"Seafood",
	"Asian",
	"Italian",
	"Other",
}

// ValidCategory は定義済みのカテゴリかどうかを返す。
func ValidCategory(c string) bool {
	return slices.Contains(Categories, c)
}

// Recipe はユーザーが投稿したレシピを表す。
type Recipe struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Title        string     `json:"title"`
	Ingredients  string     `json:"ingredients"`
	Instructions string     `json:"instructions"`
	CookingTime  *int       `json:"cooking_time"`
	Difficulty   Difficulty `json:"difficulty"`
	Category     string     `json:"category"`
	ImageURL     *string    `json:"image_url"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasPlaceholderImage はプレースホルダー画像で保存されたレシピかどうかを返す。
func (r *Recipe) HasPlaceholderImage() bool {
	return r.ImageURL != nil && *r.ImageURL == PlaceholderImageURL
}

// RecipeInput はレシピ作成・更新の入力を表す。
// 更新時はすべてのフィールドが置き換えられる。
type RecipeInput struct {
	Title        string     `json:"title"`
	Ingredients  string     `json:"ingredients"`
	Instructions string     `json:"instructions"`
	CookingTime  *int       `json:"cooking_time"`
	Difficulty   Difficulty `json:"difficulty"`
	Category     string     `json:"category"`
	ImageURL     *string    `json:"image_url"`
}

// Normalize は各フィールドをトリムし、未指定値にデフォルトを設定した入力を返す。
// 空白のみの画像URLはnullとして扱う。
func (in RecipeInput) Normalize() RecipeInput {
	out := in
	out.Title = strings.TrimSpace(in.Title)
	out.Ingredients = strings.TrimSpace(in.Ingredients)
	out.Instructions = strings.TrimSpace(in.Instructions)
	out.Category = strings.TrimSpace(in.Category)
	if out.Category == "" {
		out.Category = DefaultCategory
	}
	if out.Difficulty == "" {
		out.Difficulty = DefaultDifficulty
	}
	if in.ImageURL != nil {
		u := strings.TrimSpace(*in.ImageURL)
		if u == "" {
			out.ImageURL = nil
		} else {
			out.ImageURL = &u
		}
	}
	return out
}

// Validate は正規化済みの入力を検証する。
func (in RecipeInput) Validate() error {
	switch {
	case in.Title == "":
		return NewValidationError("title", "タイトルを入力してください。")
	case in.Ingredients == "":
		return NewValidationError("ingredients", "材料を入力してください。")
	case in.Instructions == "":
		return NewValidationError("instructions", "作り方を入力してください。")
	case in.CookingTime != nil && *in.CookingTime <= 0:
		return NewValidationError("cooking_time", "調理時間は1分以上の整数で指定してください。")
	case !in.Difficulty.Valid():
		return NewValidationError("difficulty", "難易度は Easy、Medium、Hard のいずれかを指定してください。")
	case !ValidCategory(in.Category):
		return NewValidationError("category", "カテゴリは "+strings.Join(Categories, "、")+" のいずれかを指定してください。")
	}
	return nil
}

// RecipeFilter はレシピ一覧の絞り込み条件を表す。
// 空文字および "All ..." センチネルは条件なしとして扱う。
type RecipeFilter struct {
	Search     string
	Category   string
	Difficulty string
}

// Normalize はトリム済みでセンチネルを空文字に置き換えたフィルタを返す。
func (f RecipeFilter) Normalize() RecipeFilter {
	out := RecipeFilter{
		Search:     strings.TrimSpace(f.Search),
		Category:   strings.TrimSpace(f.Category),
		Difficulty: strings.TrimSpace(f.Difficulty),
	}
	if out.Category == AllCategories {
		out.Category = ""
	}
	if out.Difficulty == AllDifficulties {
		out.Difficulty = ""
	}
	return out
}

// Matches はレシピが正規化済みフィルタの全条件を満たすかどうかを返す。
// 検索語はタイトル・材料・作り方のいずれかに大文字小文字を区別せず含まれれば一致とする。
func (f RecipeFilter) Matches(r *Recipe) bool {
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Difficulty != "" && string(r.Difficulty) != f.Difficulty {
		return false
	}
	if f.Search == "" {
		return true
	}
	term := strings.ToLower(f.Search)
	for _, field := range []string{r.Title, r.Ingredients, r.Instructions} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// RecipeWithAuthor は投稿者名を解決済みのレシピを表す。
type RecipeWithAuthor struct {
	Recipe
	AuthorUsername string `json:"author_username"`
}

// RecipeDetail はレシピ詳細ページに表示する内容をまとめたもの。
type RecipeDetail struct {
	Recipe   RecipeWithAuthor     `json:"recipe"`
	Comments []*CommentWithAuthor `json:"comments"`
	Likes    LikeState            `json:"likes"`
	IsOwner  bool                 `json:"is_owner"`
}
