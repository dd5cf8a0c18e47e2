package handlers

import (
	"chat-backend/internal/models"
	"chat-backend/internal/realtime"
	"chat-backend/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ListChatsHandler returns the caller's chats with unread counts, most
// recent activity first.
func ListChatsHandler(chats *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		views, err := chats.ListChats(c.Context(), CurrentUser(c).ID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(views)
	}
}

// CreateChatHandler creates a direct or group chat including the caller.
// An existing direct chat is returned with 200 instead of 201.
func CreateChatHandler(chats *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.CreateChatRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request")
		}
		me := CurrentUser(c)
		chat, created, err := chats.CreateChat(c.Context(), me.ID, req)
		if err != nil {
			return httpError(err)
		}
		view, err := chats.GetChat(c.Context(), chat.ID, me.ID)
		if err != nil {
			return httpError(err)
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(view)
	}
}

func ChatExistsHandler(chats *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		view, err := chats.ChatExists(c.Context(), CurrentUser(c).ID, splitIDs(c.Query("userIds")))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(view)
	}
}

func GetChatHandler(chats *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		view, err := chats.GetChat(c.Context(), c.Params("id"), CurrentUser(c).ID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(view)
	}
}

func ListMessagesHandler(chats *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		messages, err := chats.ListMessages(c.Context(), c.Params("id"), CurrentUser(c).ID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(messages)
	}
}

// MarkReadHandler marks messages read by the caller through the same path
// as the realtime mark_read event, so connected clients get messages_read.
func MarkReadHandler(engine *realtime.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		marks, err := engine.MarkRead(c.Context(), CurrentUser(c).ID, splitIDs(c.Query("messageIds")))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"updated": len(marks)})
	}
}
