package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// RESTClient はPostgREST互換のテーブルAPIクライアント。
type RESTClient struct {
	t      *transport
	tokens TokenSource
}

// From は指定テーブルに対するクエリを開始する。
func (c *RESTClient) From(table string) *Query {
	return &Query{c: c, table: table, params: url.Values{}}
}

// Query はテーブルに対する1回の操作を組み立てる。
// フィルタはすべてAND条件で結合される。
type Query struct {
	c      *RESTClient
	table  string
	params url.Values
}

// Select は取得する列を指定する。
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

// Eq は列が値と等しい行に絞り込む。
func (q *Query) Eq(column, value string) *Query {
	q.params.Add(column, "eq."+value)
	return q
}

// In は列が値のいずれかと等しい行に絞り込む。
func (q *Query) In(column string, values []string) *Query {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteValue(v)
	}
	q.params.Add(column, "in.("+strings.Join(quoted, ",")+")")
	return q
}

// SearchAny はいずれかの列に term が大文字小文字を区別せず部分一致する行に絞り込む。
// term が空の場合は何もしない。
func (q *Query) SearchAny(columns []string, term string) *Query {
	if term == "" || len(columns) == 0 {
		return q
	}
	pattern := quoteValue("*" + escapeLike(term) + "*")
	conds := make([]string, len(columns))
	for i, col := range columns {
		conds[i] = col + ".ilike." + pattern
	}
	q.params.Set("or", "("+strings.Join(conds, ",")+")")
	return q
}

// Order は列で並べ替える。
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.params.Set("order", column+"."+dir)
	return q
}

// Limit は取得件数の上限を指定する。
func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

// Find は条件に一致する行をすべて取得し、dest（スライスへのポインタ）にデコードする。
func (q *Query) Find(ctx context.Context, dest any) error {
	resp, err := q.send(ctx, http.MethodGet, nil, nil)
	if err != nil {
		return err
	}
	return decodeRows(resp.body, dest)
}

// First は条件に一致する先頭の1行を dest（構造体へのポインタ）にデコードする。
// 一致する行がない場合は false を返す。
func (q *Query) First(ctx context.Context, dest any) (bool, error) {
	q.Limit(1)
	resp, err := q.send(ctx, http.MethodGet, nil, nil)
	if err != nil {
		return false, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return false, fmt.Errorf("failed to decode %s rows: %w", q.table, err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(rows[0], dest); err != nil {
		return false, fmt.Errorf("failed to decode %s row: %w", q.table, err)
	}
	return true, nil
}

// Count は条件に一致する行数を返す。行そのものは取得しない。
func (q *Query) Count(ctx context.Context) (int, error) {
	header := http.Header{"Prefer": {"count=exact"}}
	resp, err := q.send(ctx, http.MethodHead, header, nil)
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.header.Get("Content-Range"))
}

// Insert は行を挿入する。dest が nil でなければ挿入後の行を受け取る。
func (q *Query) Insert(ctx context.Context, row any, dest any) error {
	return q.write(ctx, http.MethodPost, row, dest, nil)
}

// InsertIgnoreDuplicates は一意制約 onConflict に衝突する行を無視して挿入する。
// 既に存在する場合もエラーにならない。
func (q *Query) InsertIgnoreDuplicates(ctx context.Context, row any, onConflict string) error {
	q.params.Set("on_conflict", onConflict)
	return q.write(ctx, http.MethodPost, row, nil, []string{"resolution=ignore-duplicates"})
}

// Upsert は一意制約 onConflict に衝突する行を更新し、なければ挿入する。
func (q *Query) Upsert(ctx context.Context, row any, onConflict string, dest any) error {
	q.params.Set("on_conflict", onConflict)
	return q.write(ctx, http.MethodPost, row, dest, []string{"resolution=merge-duplicates"})
}

// Update は条件に一致する行を patch で更新する。dest が nil でなければ更新後の行を受け取る。
func (q *Query) Update(ctx context.Context, patch any, dest any) error {
	return q.write(ctx, http.MethodPatch, patch, dest, nil)
}

// Delete は条件に一致する行を削除する。dest が nil でなければ削除した行を受け取る。
func (q *Query) Delete(ctx context.Context, dest any) error {
	return q.write(ctx, http.MethodDelete, nil, dest, nil)
}

func (q *Query) write(ctx context.Context, method string, payload any, dest any, prefer []string) error {
	if dest != nil {
		prefer = append(prefer, "return=representation")
	} else {
		prefer = append(prefer, "return=minimal")
	}
	header := http.Header{"Prefer": {strings.Join(prefer, ",")}}

	var body io.Reader
	if payload != nil {
		b, err := jsonBody(payload)
		if err != nil {
			return err
		}
		body = b
	}
	resp, err := q.send(ctx, method, header, body)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return decodeRows(resp.body, dest)
}

func (q *Query) send(ctx context.Context, method string, header http.Header, body io.Reader) (*response, error) {
	token, err := q.c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve access token: %w", err)
	}
	resp, err := q.c.t.do(ctx, request{
		scope:  ScopeREST,
		method: method,
		path:   "/rest/v1/" + q.table,
		query:  q.params,
		header: header,
		body:   body,
		bearer: token,
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, q.table, err)
	}
	return resp, nil
}

func decodeRows(body []byte, dest any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to decode rows: %w", err)
	}
	return nil
}

// parseContentRange は "0-9/42" や "*/0" 形式の Content-Range から総件数を取り出す。
func parseContentRange(v string) (int, error) {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("content-range has no total: %q", v)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("invalid content-range total: %q", v)
	}
	return n, nil
}

// quoteValue はフィルタ値をダブルクォートで囲み、予約文字を含んでも1つの値として扱わせる。
func quoteValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

// escapeLike は LIKE パターンのメタ文字をリテラルとして扱うようエスケープする。
// ゲートウェイはパターン中の * を % に置き換えるため、* はエスケープできない。
// 1文字に一致する _ に置き換えるので、呼び出し側で結果を絞り込み直すこと。
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `_`)
	return r.Replace(term)
}
