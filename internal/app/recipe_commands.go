package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
	"github.com/hashaatefac/Recipe-Sharing/internal/profile"
	"github.com/hashaatefac/Recipe-Sharing/internal/recipe"
)

// recipeFlags はレシピ作成・編集のフラグ。
type recipeFlags struct {
	title        string
	ingredients  string
	instructions string
	cookingTime  int
	difficulty   string
	category     string
	imageURL     string
	imageFile    string
}

func (f *recipeFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.title, "title", "", "タイトル")
	fs.StringVar(&f.ingredients, "ingredients", "", "材料")
	fs.StringVar(&f.instructions, "instructions", "", "作り方")
	fs.IntVar(&f.cookingTime, "cooking-time", 0, "調理時間（分）。0は未指定")
	fs.StringVar(&f.difficulty, "difficulty", "", "難易度 (Easy, Medium, Hard)")
	fs.StringVar(&f.category, "category", "", "カテゴリ ("+strings.Join(model.Categories, ", ")+")")
	fs.StringVar(&f.imageURL, "image-url", "", "画像URL")
	fs.StringVar(&f.imageFile, "image", "", "アップロードする画像ファイル")
}

// apply は指定されたフラグだけを入力に反映する。
func (f *recipeFlags) apply(fs *pflag.FlagSet, in *model.RecipeInput) {
	if fs.Changed("title") {
		in.Title = f.title
	}
	if fs.Changed("ingredients") {
		in.Ingredients = f.ingredients
	}
	if fs.Changed("instructions") {
		in.Instructions = f.instructions
	}
	if fs.Changed("cooking-time") {
		in.CookingTime = nil
		if f.cookingTime != 0 {
			ct := f.cookingTime
			in.CookingTime = &ct
		}
	}
	if fs.Changed("difficulty") {
		in.Difficulty = model.Difficulty(f.difficulty)
	}
	if fs.Changed("category") {
		in.Category = f.category
	}
	if fs.Changed("image-url") {
		u := f.imageURL
		in.ImageURL = &u
	}
}

func (f *recipeFlags) image() (*recipe.Image, error) {
	if f.imageFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(f.imageFile)
	if err != nil {
		return nil, fmt.Errorf("画像ファイルを読み込めません: %w", err)
	}
	return &recipe.Image{Filename: f.imageFile, Data: data}, nil
}

func inputFromRecipe(r *model.Recipe) model.RecipeInput {
	return model.RecipeInput{
		Title:        r.Title,
		Ingredients:  r.Ingredients,
		Instructions: r.Instructions,
		CookingTime:  r.CookingTime,
		Difficulty:   r.Difficulty,
		Category:     r.Category,
		ImageURL:     r.ImageURL,
	}
}

func (c *cli) recipesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "レシピの一覧・閲覧・作成・編集・削除",
	}
	cmd.AddCommand(
		c.recipesListCommand(),
		c.recipesShowCommand(),
		c.recipesNewCommand(),
		c.recipesEditCommand(),
		c.recipesDeleteCommand(),
	)
	return cmd
}

func (c *cli) recipesListCommand() *cobra.Command {
	var filter model.RecipeFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "レシピを新しい順に一覧表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				recipes, err := ct.Recipes.List(ctx, filter)
				if err != nil {
					return err
				}
				renderRecipeList(c.out, recipes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.Search, "search", "", "タイトル・材料・作り方の検索語")
	cmd.Flags().StringVar(&filter.Category, "category", model.AllCategories, "カテゴリ")
	cmd.Flags().StringVar(&filter.Difficulty, "difficulty", model.AllDifficulties, "難易度")
	return cmd
}

func (c *cli) recipesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <recipe-id>",
		Short: "レシピの詳細とコメント、いいねを表示する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				detail, err := ct.Recipes.Detail(ctx, args[0])
				if err != nil {
					return err
				}
				renderRecipeDetail(c.out, detail)
				return nil
			})
		},
	}
}

func (c *cli) recipesNewCommand() *cobra.Command {
	var f recipeFlags
	cmd := &cobra.Command{
		Use:   "new",
		Short: "レシピを作成する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := model.RecipeInput{}
			f.apply(cmd.Flags(), &in)
			img, err := f.image()
			if err != nil {
				return err
			}
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				res, err := ct.Recipes.Create(ctx, in, img)
				if err != nil {
					return err
				}
				renderSaveResult(c.out, "レシピを作成しました", res)
				return nil
			})
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func (c *cli) recipesEditCommand() *cobra.Command {
	var f recipeFlags
	cmd := &cobra.Command{
		Use:   "edit <recipe-id>",
		Short: "自分のレシピを編集する。指定したフラグの項目だけを変更する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := f.image()
			if err != nil {
				return err
			}
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				current, err := ct.Recipes.GetForEdit(ctx, args[0])
				if err != nil {
					return err
				}
				in := inputFromRecipe(current)
				f.apply(cmd.Flags(), &in)

				res, err := ct.Recipes.Update(ctx, args[0], in, img)
				if err != nil {
					return err
				}
				renderSaveResult(c.out, "レシピを更新しました", res)
				return nil
			})
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func (c *cli) recipesDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <recipe-id>",
		Short: "自分のレシピを削除する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				if err := ct.Recipes.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "レシピを削除しました。")
				return nil
			})
		},
	}
}

func (c *cli) dashboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "自分のレシピを新しい順に一覧表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				recipes, err := ct.Recipes.Mine(ctx)
				if err != nil {
					return err
				}
				renderRecipeList(c.out, recipes)
				return nil
			})
		},
	}
}

func (c *cli) commentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "comments <recipe-id>",
		Short: "レシピのコメントを古い順に表示する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				comments, err := ct.Comments.List(ctx, args[0])
				if err != nil {
					return err
				}
				renderComments(c.out, comments)
				return nil
			})
		},
	}
}

func (c *cli) commentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <recipe-id> <text>...",
		Short: "レシピにコメントを投稿する",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args[1:], " ")
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				comments, err := ct.Comments.Post(ctx, args[0], content)
				if err != nil {
					return err
				}
				renderComments(c.out, comments)
				return nil
			})
		},
	}
}

func (c *cli) likeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "like <recipe-id>",
		Short: "レシピのいいねを切り替える",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				hint := func(st model.LikeState) {
					fmt.Fprintf(c.out, "%s（反映中）\n", formatLikes(st))
				}
				st, err := ct.Likes.Toggle(ctx, args[0], hint)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, formatLikes(st))
				return nil
			})
		},
	}
}

func (c *cli) profileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "自分のプロフィールを表示・編集する",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "プロフィールを表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				p, err := ct.Profiles.Get(ctx)
				if err != nil {
					return err
				}
				renderProfile(c.out, p)
				return nil
			})
		},
	}

	var in profile.Input
	update := &cobra.Command{
		Use:   "update",
		Short: "プロフィールを更新する。指定したフラグの項目だけを変更する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				current, err := ct.Profiles.Get(ctx)
				if err != nil {
					return err
				}
				next := profile.Input{Username: current.Username, FullName: current.FullName, Bio: current.Bio}
				fs := cmd.Flags()
				if fs.Changed("username") {
					next.Username = in.Username
				}
				if fs.Changed("full-name") {
					next.FullName = in.FullName
				}
				if fs.Changed("bio") {
					next.Bio = in.Bio
				}

				saved, err := ct.Profiles.Update(ctx, next)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, "プロフィールを更新しました。")
				renderProfile(c.out, saved)
				return nil
			})
		},
	}
	update.Flags().StringVar(&in.Username, "username", "", "ユーザー名")
	update.Flags().StringVar(&in.FullName, "full-name", "", "氏名")
	update.Flags().StringVar(&in.Bio, "bio", "", "自己紹介")

	cmd.AddCommand(show, update)
	return cmd
}
