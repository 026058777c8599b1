package main

import (
	"fmt"

	"github.com/hearthspace/hearth/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
