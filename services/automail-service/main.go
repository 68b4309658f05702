package main

import "github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/app"

func main() {
	app.Execute()
}
