package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestIsValidUser(t *testing.T) {
	valid := []string{"alice", "bob-42", "user.name", "a_b_c", strings.Repeat("x", 64)}
	for _, u := range valid {
		require.True(t, IsValidUser(u), u)
	}

	invalid := []string{"", "ab", "has space", "semi;colon", "<script>", strings.Repeat("x", 65)}
	for _, u := range invalid {
		require.False(t, IsValidUser(u), u)
	}
}

func TestSanitizeString(t *testing.T) {
	require.Equal(t, "hello", SanitizeString("  hello  ", 100))
	require.Equal(t, "abc", SanitizeString("abcdef", 3))
	require.Equal(t, "ab", SanitizeString("a\x00b", 100))
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("creator", ""),
		ValidUser("targetUser", "bad user"),
		MaxLength("gameRef", strings.Repeat("x", 300), 256),
		PositiveAmount("stakeAmount", 0),
	)
	require.Len(t, errs, 4)
	require.Equal(t, "creator", errs[0].Field)
	require.Contains(t, errs.Error(), "creator")

	errs = Validate(
		Required("creator", "alice"),
		ValidUser("targetUser", ""), // optional field, empty is fine
		PositiveAmount("stakeAmount", 500),
	)
	require.Empty(t, errs)
}

func TestUserParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(UserParamMiddleware())
	r.GET("/users/:user", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/alice", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/a;b", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/", func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
