package tasks

import (
	"testing"

	"telxfwd/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestFilterMessage(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		text    string
		want    string
	}{
		{"no rules", nil, nil, "anything", ""},
		{"include hit", []string{"alpha"}, nil, "the ALPHA release", ""},
		{"include miss", []string{"alpha"}, nil, "beta", SkipFiltered},
		{"any include is enough", []string{"alpha", "beta"}, nil, "beta", ""},
		{"exclude hit", nil, []string{"Spam"}, "buy spam now", SkipExcluded},
		{"exclude wins after include", []string{"news"}, []string{"ad"}, "news ad", SkipExcluded},
		{"blank include matches nothing", []string{""}, []string{""}, "text", SkipFiltered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := &models.ForwardingPair{FilterKeywords: tt.include, ExcludeKeywords: tt.exclude}
			assert.Equal(t, tt.want, FilterMessage(pair, tt.text))
		})
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		pair models.ForwardingPair
		text string
		want string
	}{
		{"untouched", models.ForwardingPair{}, "hello", "hello"},
		{"prefix", models.ForwardingPair{CustomPrefix: "[News]"}, "hello", "[News] hello"},
		{"suffix", models.ForwardingPair{CustomSuffix: "#tag"}, "hello", "hello #tag"},
		{"remove header", models.ForwardingPair{RemoveHeader: true}, "From: x\nbody\nsig", "body\nsig"},
		{"remove footer", models.ForwardingPair{RemoveFooter: true}, "body\nsig", "body"},
		{"single line kept", models.ForwardingPair{RemoveHeader: true, RemoveFooter: true}, "only", "only"},
		{"custom header and footer", models.ForwardingPair{CustomHeader: "H", CustomFooter: "F"}, "body", "H\nbody\nF"},
		{
			"everything",
			models.ForwardingPair{RemoveHeader: true, CustomHeader: "H", CustomPrefix: ">", CustomSuffix: "<"},
			"old\nbody",
			"> H\nbody <",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMessage(&tt.pair, tt.text))
		})
	}
}
