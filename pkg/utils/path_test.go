package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/old-page":                          "/old-page",
		"old-page":                           "/old-page",
		"/Old-Page":                          "/Old-Page",
		"/search?q=shoes":                    "/search",
		"/docs#intro":                        "/docs",
		"https://example.com/blog/post?x=1":  "/blog/post",
		"http://example.com":                 "/",
		"//cdn.example.com/img/a.png":        "/img/a.png",
		"  /padded  ":                        "/padded",
		"/path/with://inside":                "/path/with://inside",
		"HTTPS://Example.COM/Case/Kept#frag": "/Case/Kept",
	}

	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), "input %q", in)
	}
}
