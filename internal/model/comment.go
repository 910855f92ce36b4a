package model

import "time"

// Comment はレシピに対するコメントを表す。追記のみで更新・削除はしない。
type Comment struct {
	ID        string    `json:"id"`
	RecipeID  string    `json:"recipe_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CommentWithAuthor は投稿者名を解決済みのコメントを表す。
type CommentWithAuthor struct {
	Comment
	AuthorUsername string `json:"author_username"`
}

// Like はレシピとユーザーの組で一意ないいねを表す。
type Like struct {
	RecipeID string `json:"recipe_id"`
	UserID   string `json:"user_id"`
}

// LikeState はゲートウェイから再取得したいいねの確定状態を表す。
type LikeState struct {
	RecipeID string `json:"recipe_id"`
	Count    int    `json:"count"`
	Liked    bool   `json:"liked"`
}

// Toggled は楽観的表示用に、トグル後に期待される状態を返す。
// 確定値ではないため、表示ヒントとしてのみ用いる。
func (s LikeState) Toggled() LikeState {
	next := s
	next.Liked = !s.Liked
	if next.Liked {
		next.Count++
	} else if next.Count > 0 {
		next.Count--
	}
	return next
}
