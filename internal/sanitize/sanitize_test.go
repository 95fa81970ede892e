package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserID(t *testing.T) {
	got, err := UserID("  alice@example.com ")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", got)

	_, err = UserID("")
	require.Error(t, err)

	_, err = UserID("alice; DROP TABLE users")
	require.Error(t, err)

	_, err = UserID(strings.Repeat("a", MaxUserIDLength+1))
	require.Error(t, err)
}

func TestScope(t *testing.T) {
	got, err := Scope(" Preferences ")
	require.NoError(t, err)
	require.Equal(t, "preferences", got)

	_, err = Scope("pref-erences")
	require.Error(t, err)
}

func TestDomain(t *testing.T) {
	got, err := Domain(nil)
	require.NoError(t, err)
	require.Nil(t, got)

	empty := "   "
	got, err = Domain(&empty)
	require.NoError(t, err)
	require.Nil(t, got)

	food := " food "
	got, err = Domain(&food)
	require.NoError(t, err)
	require.Equal(t, "food", *got)

	bad := "food'; --"
	_, err = Domain(&bad)
	require.Error(t, err)
}

func TestPurposeEscapesHTML(t *testing.T) {
	got, err := Purpose("recommend <b>restaurants</b>")
	require.NoError(t, err)
	require.Equal(t, "recommend &lt;b&gt;restaurants&lt;/b&gt;", got)

	_, err = Purpose("")
	require.Error(t, err)
}

func TestLooksLikeSQLInjection(t *testing.T) {
	require.True(t, LooksLikeSQLInjection("SELECT * FROM users"))
	require.True(t, LooksLikeSQLInjection("value -- comment"))
	require.True(t, LooksLikeSQLInjection("1 OR 1=1"))
	require.True(t, LooksLikeSQLInjection("it's quoted"))

	require.False(t, LooksLikeSQLInjection("likes jazz and hiking"))
	require.False(t, LooksLikeSQLInjection("no meetings after 5pm"))
}

func TestJSONValueEscapesStringLeaves(t *testing.T) {
	value := map[string]interface{}{
		"note":  "<script>alert(1)</script>",
		"count": 3.0,
		"tags":  []interface{}{"<b>", "plain"},
	}
	got := JSONValue(value).(map[string]interface{})
	require.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", got["note"])
	require.Equal(t, 3.0, got["count"])
	require.Equal(t, []interface{}{"&lt;b&gt;", "plain"}, got["tags"])
}
