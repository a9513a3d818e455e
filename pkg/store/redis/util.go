package redis

import (
	"encoding/json"
	"strconv"
)

func jsonMarshal(v interface{}) ([]byte, error)    { return json.Marshal(v) }
func jsonUnmarshal(b []byte, v interface{}) error  { return json.Unmarshal(b, v) }
func parseInt64(s string) (int64, error)           { return strconv.ParseInt(s, 10, 64) }
