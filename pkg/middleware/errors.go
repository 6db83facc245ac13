package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError はハンドラが返すHTTPエラーを表す。
// ErrorRendererによって標準エラーレスポンスに変換される。
type APIError struct {
	// Status はHTTPステータスコード。
	Status int
	// Message は人間向けのエラーメッセージ。
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return e.Message
}

// ハンドラが使用する標準エラーのコンストラクタ。

// BadRequest は400エラーを生成する。
func BadRequest() *APIError {
	return &APIError{Status: http.StatusBadRequest, Message: "Bad request."}
}

// NotFound は404エラーを生成する。
func NotFound() *APIError {
	return &APIError{Status: http.StatusNotFound, Message: "Resource not found."}
}

// Conflict は409エラーを生成する。
func Conflict() *APIError {
	return &APIError{Status: http.StatusConflict, Message: "A conflict was found."}
}

// InternalServerError は500エラーを生成する。
func InternalServerError() *APIError {
	return &APIError{Status: http.StatusInternalServerError, Message: "Internal Server Error."}
}

// ErrorRenderer はハンドラチェーンで発生した型付きエラーを
// 標準のJSONエラーレスポンスに変換するミドルウェアを返す。
// レスポンス形式: {"success":false,"error":<status>,"message":<string>}
// 認証エラーはさらに機械可読なcodeフィールドを持つ。
func ErrorRenderer() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var authErr *AuthError
		if errors.As(err, &authErr) {
			c.JSON(authErr.Status, gin.H{
				"success": false,
				"error":   authErr.Status,
				"code":    authErr.Code,
				"message": authErr.Description,
			})
			return
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.JSON(apiErr.Status, gin.H{
				"success": false,
				"error":   apiErr.Status,
				"message": apiErr.Message,
			})
			return
		}

		// 型付けされていないエラーは500として扱う
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   http.StatusInternalServerError,
			"message": "Internal Server Error.",
		})
	}
}
