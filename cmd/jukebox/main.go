package main

import (
	"os"

	"github.com/hometv/jukebox/internal/app"
)

func main() {
	os.Exit(app.Run("jukebox", run))
}
