package main

import "chat-backend/internal/app"

func main() {
	app.Run()
}
