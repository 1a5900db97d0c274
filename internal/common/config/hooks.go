package config

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		UpperCaseStringSliceHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)),
}

// UpperCaseStringSliceHookFunc decodes a comma-separated string into a []string of trimmed, upper-cased keywords.
// It lets keyword lists such as limits.deniedKeywords be overridden from a single environment variable.
func UpperCaseStringSliceHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != reflect.TypeOf(KeywordList{}) {
			return data, nil
		}
		raw := data.(string)
		if strings.TrimSpace(raw) == "" {
			return KeywordList{}, nil
		}
		var result KeywordList
		for _, part := range strings.Split(raw, ",") {
			if keyword := strings.ToUpper(strings.TrimSpace(part)); keyword != "" {
				result = append(result, keyword)
			}
		}
		return result, nil
	}
}

// KeywordList is a list of SQL keywords. Keywords decoded from a string are upper-cased.
type KeywordList []string
