package request

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

func gjsonGet(raw json.RawMessage, path string) string {
	return gjson.GetBytes(raw, path).String()
}
