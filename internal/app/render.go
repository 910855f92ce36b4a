package app

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/hashaatefac/Recipe-Sharing/internal/account"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
	"github.com/hashaatefac/Recipe-Sharing/internal/recipe"
)

const timeLayout = "2006-01-02 15:04"

func renderWhoAmI(w io.Writer, who *account.WhoAmI) {
	fmt.Fprintf(w, "メール:     %s\n", who.Identity.Email)
	fmt.Fprintf(w, "ユーザーID: %s\n", who.Identity.ID)
	fmt.Fprintf(w, "表示名:     %s\n", who.Profile.DisplayName())
}

func renderRecipeList(w io.Writer, recipes []*model.RecipeWithAuthor) {
	if len(recipes) == 0 {
		fmt.Fprintln(w, "レシピが見つかりませんでした。")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tタイトル\tカテゴリ\t難易度\t調理時間\t投稿者\t投稿日時")
	for _, r := range recipes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Title, r.Category, r.Difficulty, formatCookingTime(r.CookingTime),
			r.AuthorUsername, formatTime(r.CreatedAt))
	}
	tw.Flush()
}

func renderRecipeDetail(w io.Writer, d *model.RecipeDetail) {
	r := d.Recipe
	fmt.Fprintf(w, "%s\n", r.Title)
	fmt.Fprintf(w, "投稿者: %s  カテゴリ: %s  難易度: %s  調理時間: %s\n",
		r.AuthorUsername, r.Category, r.Difficulty, formatCookingTime(r.CookingTime))
	if r.ImageURL != nil && *r.ImageURL != "" {
		fmt.Fprintf(w, "画像: %s\n", *r.ImageURL)
	}
	fmt.Fprintf(w, "\n[材料]\n%s\n\n[作り方]\n%s\n\n", r.Ingredients, r.Instructions)
	fmt.Fprintln(w, formatLikes(d.Likes))
	if d.IsOwner {
		fmt.Fprintf(w, "あなたのレシピです。編集: recipes edit %s / 削除: recipes delete %s\n", r.ID, r.ID)
	}
	fmt.Fprintln(w)
	renderComments(w, d.Comments)
}

func renderComments(w io.Writer, comments []*model.CommentWithAuthor) {
	fmt.Fprintf(w, "コメント (%d)\n", len(comments))
	for _, c := range comments {
		fmt.Fprintf(w, "- %s (%s): %s\n", c.AuthorUsername, formatTime(c.CreatedAt), c.Content)
	}
}

func renderProfile(w io.Writer, p *model.Profile) {
	fmt.Fprintf(w, "ユーザー名: %s\n", p.DisplayName())
	fmt.Fprintf(w, "氏名:       %s\n", p.FullName)
	fmt.Fprintf(w, "自己紹介:   %s\n", p.Bio)
}

func renderSaveResult(w io.Writer, headline string, res *recipe.SaveResult) {
	fmt.Fprintf(w, "%s: %s\n", headline, res.Recipe.ID)
	if res.Notice != "" {
		fmt.Fprintln(w, res.Notice)
	}
	if res.PreviewURL != "" {
		fmt.Fprintf(w, "プレビュー: %s\n", res.PreviewURL)
	}
}

func formatLikes(st model.LikeState) string {
	mark := "♡"
	if st.Liked {
		mark = "♥"
	}
	return fmt.Sprintf("%s %d", mark, st.Count)
}

func formatCookingTime(minutes *int) string {
	if minutes == nil {
		return "-"
	}
	return strconv.Itoa(*minutes) + "分"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}
