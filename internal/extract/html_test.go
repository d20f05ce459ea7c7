package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!doctype html>
<html>
<head><title> Go   Concurrency </title><style>body { color: red }</style></head>
<body>
  <nav><a href="/">Home</a> <a href="/blog">Blog</a></nav>
  <h1>Ignored heading title</h1>
  <p>Goroutines are   cheap.</p>
  <p>Channels <b>connect</b> them.</p>
  <script>console.log("tracking")</script>
  <ul><li>first</li><li>second</li></ul>
  <footer>Copyright</footer>
</body>
</html>`

func TestGenericHTML(t *testing.T) {
	doc, err := GenericHTML(context.Background(), Source{Body: []byte(articlePage)})
	require.NoError(t, err)

	assert.Equal(t, "Go Concurrency", doc.Title)
	assert.Equal(t, "Ignored heading title\n\nGoroutines are cheap.\n\nChannels connect them.\n\nfirst\n\nsecond", doc.Content)
	assert.NotContains(t, doc.Content, "tracking")
	assert.NotContains(t, doc.Content, "Home")
	assert.NotContains(t, doc.Content, "Copyright")
}

func TestGenericHTML_TitleFallbacks(t *testing.T) {
	doc, err := GenericHTML(context.Background(), Source{Body: []byte(`<body><h1>Heading  Title</h1><p>x</p></body>`)})
	require.NoError(t, err)
	assert.Equal(t, "Heading Title", doc.Title)

	doc, err = GenericHTML(context.Background(), Source{Body: []byte(`<body><p>no title here</p></body>`)})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTitle, doc.Title)
}

const catalogPage = `<html><head><title>Catalog</title></head><body>
<nav>menu</nav>
<article><h2>Widget</h2><p>A small widget.</p></article>
<div itemscope itemtype="https://schema.org/Product"><span itemprop="name">Gadget</span> <span itemprop="price">9.99</span></div>
<ul>
  <li><h3>Service A</h3> Fast delivery</li>
  <li>plain bullet</li>
</ul>
<dl><dt>SKU</dt><dd>W-100</dd><dt>Weight</dt><dd>2kg</dd></dl>
<table><tr><th>Name</th><th>Price</th></tr><tr><td>Bolt</td><td>0.10</td></tr></table>
</body></html>`

func TestStructuredCatalogHTML(t *testing.T) {
	doc, err := StructuredCatalogHTML(context.Background(), Source{Body: []byte(catalogPage)})
	require.NoError(t, err)

	assert.Equal(t, "Catalog", doc.Title)
	assert.Equal(t, []string{
		"Widget A small widget.",
		"Gadget 9.99",
		"Service A Fast delivery",
		"SKU: W-100",
		"Weight: 2kg",
		"Name | Price",
		"Bolt | 0.10",
	}, strings.Split(doc.Content, "\n\n"))
	assert.NotContains(t, doc.Content, "plain bullet")
	assert.NotContains(t, doc.Content, "menu")
}

func TestStructuredCatalogHTML_FallsBackToGeneric(t *testing.T) {
	doc, err := StructuredCatalogHTML(context.Background(), Source{Body: []byte(`<html><body><p>Just prose.</p></body></html>`)})
	require.NoError(t, err)
	assert.Equal(t, "Just prose.", doc.Content)
}

func TestCollapseParagraphs(t *testing.T) {
	assert.Equal(t, "a b\n\nc", collapseParagraphs("\n\n  a \t b \n\n\n\n\n c\n\n"))
	assert.Equal(t, "", collapseParagraphs(" \n\n \n\n"))
}
