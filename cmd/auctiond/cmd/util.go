package cmd

import (
	"encoding/json"
	"fmt"
)

func printJSON(in interface{}) error {
	out, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
