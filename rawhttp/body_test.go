package rawhttp

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeJSONBody(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		contentType   string
		want          string
		wantReencoded bool
	}{
		{
			name:        "should compact a JSON body",
			body:        "{\n  \"inputType\": \"url\",\n  \"inputValue\": \"https://youtu.be/abc\"\n}",
			contentType: "application/json; charset=utf-8",
			want:        `{"inputType":"url","inputValue":"https://youtu.be/abc"}`,
		},
		{
			name:        "should accept structured JSON media types",
			body:        `{"a": [1, 2]}`,
			contentType: "application/merge-patch+json",
			want:        `{"a":[1,2]}`,
		},
		{
			name:          "should turn a form body into an object",
			body:          "inputType=text&inputValue=hello+world&tag=a&tag=b",
			contentType:   "application/x-www-form-urlencoded",
			want:          `{"inputType":"text","inputValue":"hello world","tag":["a","b"]}`,
			wantReencoded: true,
		},
		{
			name:          "should turn plain text into a JSON string",
			body:          "line one\nline \"two\"",
			contentType:   "text/plain",
			want:          `"line one\nline \"two\""`,
			wantReencoded: true,
		},
		{
			name: "should keep untyped JSON as JSON",
			body: `[1, 2, 3]`,
			want: `[1,2,3]`,
		},
		{
			name:          "should turn untyped text into a JSON string",
			body:          `not json`,
			want:          `"not json"`,
			wantReencoded: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeJSONBody([]byte(tt.body), tt.contentType)
			if err != nil {
				t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
			}

			if string(got.Data) != tt.want {
				t.Fatalf("\nwanted:\n%s\ngot:\n%s", tt.want, got.Data)
			}

			if got.Reencoded != tt.wantReencoded {
				t.Fatalf("\nwanted:\n%v\ngot:\n%v", tt.wantReencoded, got.Reencoded)
			}
		})
	}

	t.Run("should keep an empty body empty", func(t *testing.T) {
		got, err := EncodeJSONBody([]byte("  \n"), "application/json")
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if !got.Empty() {
			t.Fatalf("\nwanted:\nempty body\ngot:\n%s", got.Data)
		}
	})

	t.Run("should reject malformed JSON", func(t *testing.T) {
		_, err := EncodeJSONBody([]byte(`{"inputType":`), "application/json")
		if !errors.Is(err, ErrInvalidJSON) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrInvalidJSON, err)
		}
	})

	t.Run("should round trip through Decode", func(t *testing.T) {
		got, err := EncodeJSONBody([]byte(`{"inputType":"text","inputValue":"x"}`), "application/json")
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		var decoded map[string]any
		if err := got.Decode(&decoded); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		want := map[string]any{"inputType": "text", "inputValue": "x"}
		if !reflect.DeepEqual(want, decoded) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", want, decoded)
		}

		if !json.Valid(got.Data) {
			t.Fatalf("\nwanted:\nvalid JSON\ngot:\n%s", got.Data)
		}
	})
}
