package board

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
)

const searchFixture = `<html><body><div class="r-list-container">
<div class="r-ent">
  <div class="nrec"><span class="hl f1">爆</span></div>
  <div class="title"><a href="/bbs/Stock/M.1760500000.A.1F2.html">[標的] 2330 台積電 多</a></div>
  <div class="meta"><div class="author">mrp</div><div class="date">10/15</div></div>
</div>
<div class="r-ent">
  <div class="nrec"><span class="hl f3">12</span></div>
  <div class="title"><a href="/bbs/Stock/M.1760400000.A.0AB.html">[心得] AAPL 財報</a></div>
  <div class="meta"><div class="author">mrp</div><div class="date">10/14</div></div>
</div>
<div class="r-ent">
  <div class="nrec"><span class="hl f5">X2</span></div>
  <div class="title">(本文已被刪除) [mrp]</div>
  <div class="meta"><div class="author">-</div><div class="date">10/13</div></div>
</div>
<div class="r-ent">
  <div class="nrec"><span class="hl f5">X1</span></div>
  <div class="title"><a href="https://www.ptt.cc/bbs/Stock/M.1760300000.A.C3D.html">[請益] 空單</a></div>
  <div class="meta"><div class="author">mrp</div><div class="date">10/12</div></div>
</div>
<div class="r-ent">
  <div class="nrec"></div>
  <div class="title"><a href="/bbs/Stock/M.1760200000.A.9E9.html">[閒聊] 盤後</a></div>
  <div class="meta"><div class="author">mrp</div><div class="date">10/11</div></div>
</div>
</div></body></html>`

const articleFixture = `<html><body><div id="main-content" class="bbs-screen bbs-content">
<div class="article-metaline"><span class="article-meta-tag">作者</span><span class="article-meta-value">mrp (MRP大)</span></div>
<div class="article-metaline-right"><span class="article-meta-tag">看板</span><span class="article-meta-value">Stock</span></div>
<div class="article-metaline"><span class="article-meta-tag">標題</span><span class="article-meta-value">[標的] 2330/台積電/多</span></div>
<div class="article-metaline"><span class="article-meta-tag">時間</span><span class="article-meta-value">Wed Oct 15 13:16:00 2025</span></div>
台積電 2330 突破新高，看好後市。
<span class="f6">: 引述別人的文章</span>
<span class="f2">※ 發信站: 批踢踢實業坊(ptt.cc)</span>
<div class="push"><span class="hl push-tag">推 </span><span class="f3 hl push-userid">alice</span><span class="f3 push-content">: 推</span></div>
<div class="push"><span class="hl push-tag">推 </span><span class="f3 hl push-userid">bob</span><span class="f3 push-content">: 讚</span></div>
<div class="push"><span class="f1 hl push-tag">噓 </span><span class="f3 hl push-userid">carol</span><span class="f3 push-content">: 不看好</span></div>
<div class="push"><span class="f1 hl push-tag">→ </span><span class="f3 hl push-userid">dave</span><span class="f3 push-content">: 觀望</span></div>
</div></body></html>`

func TestParseSearchResults(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://www.ptt.cc")
	require.NoError(t, err)

	results, err := ParseSearchResults([]byte(searchFixture), base)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "https://www.ptt.cc/bbs/Stock/M.1760500000.A.1F2.html", results[0].URL)
	assert.Equal(t, "[標的] 2330 台積電 多", results[0].Title)
	assert.Equal(t, "mrp", results[0].AuthorDisplay)
	assert.Equal(t, "10/15", results[0].Date)
	assert.Equal(t, 100, results[0].Push)
	assert.Equal(t, 12, results[1].Push)
	assert.Equal(t, -1, results[2].Push)
	assert.Equal(t, "https://www.ptt.cc/bbs/Stock/M.1760300000.A.C3D.html", results[2].URL)
	assert.Equal(t, 0, results[3].Push)
}

func TestParsePushShorthand(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"":    0,
		"→":   0,
		"爆":   100,
		"X1":  -1,
		"XX":  -1,
		"42":  42,
		" 7 ": 7,
		"??":  0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParsePushShorthand(in), "input %q", in)
	}
}

func TestParseArticle(t *testing.T) {
	t.Parallel()

	article, err := ParseArticle([]byte(articleFixture))
	require.NoError(t, err)

	assert.Equal(t, "mrp", article.Author)
	require.Len(t, article.MetaValues, 4)
	assert.Equal(t, "Wed Oct 15 13:16:00 2025", article.MetaValues[3])
	assert.Equal(t, crawler.Engagement{Push: 2, Boo: 1, Arrow: 1}, article.Engagement)

	assert.Contains(t, article.Body, "台積電 2330 突破新高")
	assert.Contains(t, article.Body, "發信站")
	assert.NotContains(t, article.Body, "引述別人的文章")
	assert.NotContains(t, article.Body, "alice")
	assert.NotContains(t, article.Body, "MRP大")
}

func TestParseArticleWithoutContent(t *testing.T) {
	t.Parallel()

	_, err := ParseArticle([]byte(`<html><body><p>404</p></body></html>`))
	require.ErrorIs(t, err, ErrNoContent)
}

func TestExternalID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "M.1760500000.A.1F2", ExternalID("https://www.ptt.cc/bbs/Stock/M.1760500000.A.1F2.html"))
	assert.Equal(t, "G.123.A.abc", ExternalID("https://www.ptt.cc/bbs/Stock/G.123.A.abc.html"))
	assert.Equal(t, "index", ExternalID("/bbs/Stock/index.html?x=1"))
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	taipei := time.FixedZone("CST", 8*3600)
	cases := []struct {
		name   string
		values []string
		want   time.Time
		ok     bool
	}{
		{
			name:   "full stamp",
			values: []string{"mrp (MRP大)", "Stock", "[標的] 2330/台積電/多", "Wed Oct 15 13:16:00 2025"},
			want:   time.Date(2025, 10, 15, 5, 16, 0, 0, time.UTC),
			ok:     true,
		},
		{
			name:   "padded day",
			values: []string{"Sun Oct  5 09:00:01 2025"},
			want:   time.Date(2025, 10, 5, 1, 0, 1, 0, time.UTC),
			ok:     true,
		},
		{
			name:   "localized",
			values: []string{"2025年10月15日"},
			want:   time.Date(2025, 10, 14, 16, 0, 0, 0, time.UTC),
			ok:     true,
		},
		{
			name:   "slash short year",
			values: []string{"10/15/25"},
			want:   time.Date(2025, 10, 14, 16, 0, 0, 0, time.UTC),
			ok:     true,
		},
		{
			name:   "slash long year",
			values: []string{"1/2/2025"},
			want:   time.Date(2025, 1, 1, 16, 0, 0, 0, time.UTC),
			ok:     true,
		},
		{
			name:   "iso",
			values: []string{"2025-10-15"},
			want:   time.Date(2025, 10, 14, 16, 0, 0, 0, time.UTC),
			ok:     true,
		},
		{
			name:   "first recognized wins",
			values: []string{"2025-01-01", "Wed Oct 15 13:16:00 2025"},
			want:   time.Date(2024, 12, 31, 16, 0, 0, 0, time.UTC),
			ok:     true,
		},
		{
			name:   "invalid calendar day",
			values: []string{"2025-02-31"},
			ok:     false,
		},
		{
			name:   "nothing recognizable",
			values: []string{"mrp", "Stock", "昨天下午"},
			ok:     false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseTimestamp(tc.values, taipei)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
				require.Equal(t, time.UTC, got.Location())
			}
		})
	}
}
