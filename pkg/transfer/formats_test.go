package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetParser(t *testing.T) {
	for _, name := range ValidFormats() {
		p, err := GetParser(Format(name))
		require.NoError(t, err, name)
		assert.Equal(t, Format(name), p.Format())
	}

	_, err := GetParser("keepass")
	assert.Error(t, err)
}

func TestLastPassParser(t *testing.T) {
	data := "\xEF\xBB\xBFurl,username,password,totp,extra,name,grouping,fav\n" +
		"https://github.com,johndoe,pass&amp;word,,notes,GitHub,Work,1\n" +
		"http://sn,,,,secret note body,My Note,,0\n" +
		"https://www.example.com/login,alice,pw,,,,,0\n" +
		"https://empty.example,,,,,Empty,,0\n" +
		"too,few\n"

	res, err := (&LastPassParser{}).Parse([]byte(data))
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)

	assert.Equal(t, "GitHub", res.Entries[0].Title)
	assert.Equal(t, "johndoe", res.Entries[0].Username)
	assert.Equal(t, "pass&word", res.Entries[0].Secret)
	assert.Equal(t, "example.com", res.Entries[1].Title)

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "secure note", res.Skipped[0].Reason)
	assert.Equal(t, "no useful data", res.Skipped[1].Reason)
	assert.Len(t, res.Warnings, 2)
}

func TestLastPassParserMissingColumn(t *testing.T) {
	_, err := (&LastPassParser{}).Parse([]byte("url,username,password\nx,y,z\n"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestOnePasswordParser(t *testing.T) {
	data := `Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
Bank,https://bank.example,me,"p,w",,false,false,,
Old,https://old.example,me,pw,,false,true,,
,,bob,pw2,,false,false,,
`
	res, err := (&OnePasswordParser{}).Parse([]byte(data))
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "Bank", res.Entries[0].Title)
	assert.Equal(t, "p,w", res.Entries[0].Secret)
	assert.Equal(t, "Imported item 1", res.Entries[1].Title)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "archived", res.Skipped[0].Reason)
}

func TestBitwardenParser(t *testing.T) {
	data := `{
  "encrypted": false,
  "items": [
    {"type": 1, "name": "Site", "creationDate": "2023-01-02T03:04:05Z",
     "login": {"username": "u", "password": "p", "uris": [{"uri": "https://site.example"}]}},
    {"type": 2, "name": "Note"},
    {"type": 1, "name": "", "login": {"password": "p2", "uris": [{"uri": "https://www.nameless.example/x"}]}},
    {"type": 1, "name": "Blank", "login": {}}
  ]
}`
	res, err := (&BitwardenParser{}).Parse([]byte(data))
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)

	assert.Equal(t, "Site", res.Entries[0].Title)
	assert.Equal(t, int64(1672628645000), res.Entries[0].CreatedAt)
	assert.Equal(t, res.Entries[0].CreatedAt, res.Entries[0].UpdatedAt)
	assert.Equal(t, "nameless.example", res.Entries[1].Title)
	assert.Zero(t, res.Entries[1].CreatedAt)

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "secure note", res.Skipped[0].Reason)
	assert.Equal(t, "no useful data", res.Skipped[1].Reason)
}

func TestBitwardenParserRejects(t *testing.T) {
	_, err := (&BitwardenParser{}).Parse([]byte(`{"encrypted": true, "items": []}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = (&BitwardenParser{}).Parse([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFallbackTitle(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.example.com/path", "example.com"},
		{"http://host:8080", "host"},
		{"", "Imported item 7"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FallbackTitle(tt.url, 7), tt.url)
	}
}

func TestDecodeHTMLEntities(t *testing.T) {
	assert.Equal(t, `<a href="x">'&'</a>`, DecodeHTMLEntities("&lt;a href=&quot;x&quot;&gt;&#39;&amp;&apos;&lt;/a&gt;"))
}
