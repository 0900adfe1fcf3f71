package utils

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// ToJSONString marshals content, indenting each level with indent when it is
// not empty.
func ToJSONString(content any, indent string) (jsonString string, err error) {
	var jsonResult []byte
	if indent == "" {
		jsonResult, err = json.Marshal(content)
	} else {
		jsonResult, err = json.MarshalIndent(content, "", indent)
	}
	if err != nil {
		zap.L().Warn("JSON.Marshal", zap.String("type", fmt.Sprintf("%T", content)), zap.Error(err))
		return "", err
	}

	return string(jsonResult), nil
}
