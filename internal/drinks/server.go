package drinks

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	drinksdb "github.com/nao1215/coffeehub/internal/drinks/db"
	"github.com/nao1215/coffeehub/pkg/jwks"
	"github.com/nao1215/coffeehub/pkg/middleware"
)

// Server はドリンクAPIサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はdrinksテーブルへのクエリ実行オブジェクト。
	queries *drinksdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// verifier はベアラートークンを検証するVerifier。
	verifier *jwks.Verifier
}

// NewServer は新しいドリンクサーバーを生成する。
// SQLiteデータベースの初期化とマイグレーション適用を行う。
// AUTH0_DOMAINとAPI_AUDIENCE環境変数は必須。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("DB_PATH", "/data/drinks.db")
	sqlDB, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	domain := os.Getenv("AUTH0_DOMAIN")
	if domain == "" {
		return nil, errors.New("環境変数AUTH0_DOMAINが設定されていない")
	}
	audience := os.Getenv("API_AUDIENCE")
	if audience == "" {
		return nil, errors.New("環境変数API_AUDIENCEが設定されていない")
	}
	algorithms := strings.Split(getEnvOr("ALGORITHMS", "RS256"), ",")

	cacheTTL, err := time.ParseDuration(getEnvOr("JWKS_CACHE_TTL", "10m"))
	if err != nil {
		return nil, fmt.Errorf("JWKS_CACHE_TTLの解析に失敗: %w", err)
	}

	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS([]string{frontendURL}))
	router.Use(middleware.ErrorRenderer())

	s := &Server{
		router:   router,
		port:     port,
		queries:  drinksdb.New(sqlDB),
		db:       sqlDB,
		verifier: jwks.NewVerifier(domain, audience, algorithms, cacheTTL),
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
// 一覧取得（短縮形）のみ公開エンドポイントで、他は権限ごとの認証ゲートを通す。
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleWelcome())
	s.router.GET("/drinks", s.handleListDrinks())
	s.router.GET("/drinks-detail",
		middleware.RequireAuth(s.verifier, "get:drinks-detail"), s.handleListDrinksDetail())
	s.router.POST("/drinks",
		middleware.RequireAuth(s.verifier, "post:drinks"), s.handleCreateDrink())
	s.router.PATCH("/drinks/:id",
		middleware.RequireAuth(s.verifier, "patch:drinks"), s.handleUpdateDrink())
	s.router.DELETE("/drinks/:id",
		middleware.RequireAuth(s.verifier, "delete:drinks"), s.handleDeleteDrink())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "drinks"})
	})
}

// ingredient はレシピの1成分。
type ingredient struct {
	// Name は成分名。
	Name string `json:"name"`
	// Color は表示色。
	Color string `json:"color"`
	// Parts は配合比。
	Parts float64 `json:"parts"`
}

// drinkRequest はドリンク作成・更新リクエストのJSON構造。
type drinkRequest struct {
	// Title はドリンク名。
	Title string `json:"title"`
	// Recipe は成分の一覧。
	Recipe []ingredient `json:"recipe"`
}

// shortDrink はレシピを含まないドリンクのJSON表現。
type shortDrink struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// longDrink はレシピを含むドリンクのJSON表現。
type longDrink struct {
	ID     int64        `json:"id"`
	Title  string       `json:"title"`
	Recipe []ingredient `json:"recipe"`
}

// toLongDrink はDB行をレシピ付きJSON表現に変換する。
func toLongDrink(d drinksdb.Drink) (longDrink, error) {
	var recipe []ingredient
	if err := json.Unmarshal([]byte(d.Recipe), &recipe); err != nil {
		return longDrink{}, fmt.Errorf("レシピのデシリアライズに失敗: %w", err)
	}
	return longDrink{ID: d.ID, Title: d.Title, Recipe: recipe}, nil
}

// validRecipe は全成分のname・colorが非空かつpartsが非ゼロであることを確認する。
func validRecipe(recipe []ingredient) bool {
	for _, item := range recipe {
		if item.Name == "" || item.Color == "" || item.Parts == 0 {
			return false
		}
	}
	return true
}

// handleWelcome はルートパスへのアクセスを処理するハンドラを返す。
func (s *Server) handleWelcome() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Welcome to Coffee shop api",
		})
	}
}

// handleListDrinks は全ドリンクの短縮形一覧取得を処理するハンドラを返す。
// 認証不要の公開エンドポイント。
func (s *Server) handleListDrinks() gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := s.queries.ListDrinks(c.Request.Context())
		if err != nil {
			log.Printf("ドリンク一覧取得エラー: %v", err)
			abortWithError(c, middleware.InternalServerError())
			return
		}

		shorts := make([]shortDrink, 0, len(all))
		for _, d := range all {
			shorts = append(shorts, shortDrink{ID: d.ID, Title: d.Title})
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "drinks": shorts})
	}
}

// handleListDrinksDetail は全ドリンクのレシピ付き一覧取得を処理するハンドラを返す。
func (s *Server) handleListDrinksDetail() gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := s.queries.ListDrinks(c.Request.Context())
		if err != nil {
			log.Printf("ドリンク一覧取得エラー: %v", err)
			abortWithError(c, middleware.InternalServerError())
			return
		}

		longs := make([]longDrink, 0, len(all))
		for _, d := range all {
			long, err := toLongDrink(d)
			if err != nil {
				log.Printf("レシピ変換エラー: id=%d: %v", d.ID, err)
				abortWithError(c, middleware.InternalServerError())
				return
			}
			longs = append(longs, long)
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "drinks": longs})
	}
}

// handleCreateDrink はドリンク作成を処理するハンドラを返す。
// タイトルとレシピの必須チェック、成分の妥当性チェック、
// タイトル重複チェックを行った上でトランザクション内で挿入する。
func (s *Server) handleCreateDrink() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req drinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, middleware.BadRequest())
			return
		}

		if req.Title == "" || len(req.Recipe) == 0 || !validRecipe(req.Recipe) {
			abortWithError(c, middleware.BadRequest())
			return
		}

		// タイトルの重複チェック。UNIQUE制約が競合時の最終防衛線となる
		_, err := s.queries.GetDrinkByTitle(c.Request.Context(), req.Title)
		if err == nil {
			abortWithError(c, middleware.Conflict())
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("タイトル重複チェックエラー: %v", err)
			abortWithError(c, middleware.InternalServerError())
			return
		}

		recipeJSON, err := json.Marshal(req.Recipe)
		if err != nil {
			log.Printf("レシピのシリアライズに失敗: %v", err)
			abortWithError(c, middleware.InternalServerError())
			return
		}

		id, txErr := s.createDrinkTx(c, req.Title, string(recipeJSON))
		if txErr != nil {
			abortWithError(c, txErr)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"drinks":  []longDrink{{ID: id, Title: req.Title, Recipe: req.Recipe}},
		})
	}
}

// createDrinkTx はトランザクション内でドリンクを挿入する。
// UNIQUE制約違反は409、その他の失敗は500に変換する。
func (s *Server) createDrinkTx(c *gin.Context, title, recipeJSON string) (int64, *middleware.APIError) {
	ctx := c.Request.Context()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("トランザクション開始エラー: %v", err)
		return 0, middleware.InternalServerError()
	}
	defer tx.Rollback() //nolint:errcheck

	id, err := s.queries.WithTx(tx).CreateDrink(ctx, drinksdb.CreateDrinkParams{
		Title:  title,
		Recipe: recipeJSON,
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, middleware.Conflict()
		}
		log.Printf("ドリンク作成エラー: %v", err)
		return 0, middleware.InternalServerError()
	}

	if err := tx.Commit(); err != nil {
		log.Printf("トランザクションコミットエラー: %v", err)
		return 0, middleware.InternalServerError()
	}
	return id, nil
}

// handleUpdateDrink はドリンク更新を処理するハンドラを返す。
// タイトル・レシピは指定されたフィールドのみ適用する。
// 空文字のタイトルや空のレシピは「未指定」として無視する。
func (s *Server) handleUpdateDrink() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := drinkIDFromPath(c)
		if !ok {
			abortWithError(c, middleware.NotFound())
			return
		}

		d, err := s.queries.GetDrinkByID(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			abortWithError(c, middleware.NotFound())
			return
		}
		if err != nil {
			log.Printf("ドリンク取得エラー: id=%d: %v", id, err)
			abortWithError(c, middleware.InternalServerError())
			return
		}

		var req drinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, middleware.BadRequest())
			return
		}

		title := d.Title
		if req.Title != "" {
			title = req.Title
		}

		recipeJSON := d.Recipe
		if len(req.Recipe) > 0 {
			if !validRecipe(req.Recipe) {
				abortWithError(c, middleware.BadRequest())
				return
			}
			b, err := json.Marshal(req.Recipe)
			if err != nil {
				log.Printf("レシピのシリアライズに失敗: %v", err)
				abortWithError(c, middleware.InternalServerError())
				return
			}
			recipeJSON = string(b)
		}

		if txErr := s.updateDrinkTx(c, drinksdb.UpdateDrinkParams{
			Title:  title,
			Recipe: recipeJSON,
			ID:     id,
		}); txErr != nil {
			abortWithError(c, txErr)
			return
		}

		// 更新後のドリンクをDBから取得してレスポンスを返す
		updated, err := s.queries.GetDrinkByID(c.Request.Context(), id)
		if err != nil {
			log.Printf("更新後のドリンク取得エラー: id=%d: %v", id, err)
			abortWithError(c, middleware.InternalServerError())
			return
		}
		long, err := toLongDrink(updated)
		if err != nil {
			log.Printf("レシピ変換エラー: id=%d: %v", id, err)
			abortWithError(c, middleware.InternalServerError())
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "drinks": []longDrink{long}})
	}
}

// updateDrinkTx はトランザクション内でドリンクを更新する。
// 失敗時はロールバックして500に変換する。
func (s *Server) updateDrinkTx(c *gin.Context, arg drinksdb.UpdateDrinkParams) *middleware.APIError {
	ctx := c.Request.Context()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("トランザクション開始エラー: %v", err)
		return middleware.InternalServerError()
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.queries.WithTx(tx).UpdateDrink(ctx, arg); err != nil {
		log.Printf("ドリンク更新エラー: id=%d: %v", arg.ID, err)
		return middleware.InternalServerError()
	}

	if err := tx.Commit(); err != nil {
		log.Printf("トランザクションコミットエラー: %v", err)
		return middleware.InternalServerError()
	}
	return nil
}

// handleDeleteDrink はドリンク削除を処理するハンドラを返す。
// 削除に成功した場合は削除したIDを返す。
func (s *Server) handleDeleteDrink() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := drinkIDFromPath(c)
		if !ok {
			abortWithError(c, middleware.NotFound())
			return
		}

		_, err := s.queries.GetDrinkByID(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			abortWithError(c, middleware.NotFound())
			return
		}
		if err != nil {
			log.Printf("ドリンク取得エラー: id=%d: %v", id, err)
			abortWithError(c, middleware.InternalServerError())
			return
		}

		if txErr := s.deleteDrinkTx(c, id); txErr != nil {
			abortWithError(c, txErr)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "delete": id})
	}
}

// deleteDrinkTx はトランザクション内でドリンクを削除する。
// 失敗時はロールバックして500に変換する。
func (s *Server) deleteDrinkTx(c *gin.Context, id int64) *middleware.APIError {
	ctx := c.Request.Context()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("トランザクション開始エラー: %v", err)
		return middleware.InternalServerError()
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.queries.WithTx(tx).DeleteDrink(ctx, id); err != nil {
		log.Printf("ドリンク削除エラー: id=%d: %v", id, err)
		return middleware.InternalServerError()
	}

	if err := tx.Commit(); err != nil {
		log.Printf("トランザクションコミットエラー: %v", err)
		return middleware.InternalServerError()
	}
	return nil
}

// drinkIDFromPath はパスパラメータからドリンクIDを取り出す。
// 整数として解釈できないIDは存在しないリソースとして扱う。
func drinkIDFromPath(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// abortWithError はAPIErrorをコンテキストに記録してリクエストを中断する。
// レスポンスの描画はErrorRendererが行う。
func abortWithError(c *gin.Context, apiErr *middleware.APIError) {
	_ = c.Error(apiErr)
	c.Abort()
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
