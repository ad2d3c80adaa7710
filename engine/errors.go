package engine

import "fmt"

func errUnknownConfigKey(key string) error {
	return fmt.Errorf("engine: unrecognized configuration key %q", key)
}
