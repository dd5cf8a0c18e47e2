package handlers

import (
	"chat-backend/internal/services"

	"github.com/gofiber/fiber/v2"
)

type OnlineChecker interface {
	IsOnline(userID string) bool
}

// ListUsersHandler returns every user except the caller. Online status
// comes from the live connection set.
func ListUsersHandler(users *services.UserService, online OnlineChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := users.ListUsers(c.Context(), CurrentUser(c).ID)
		if err != nil {
			return httpError(err)
		}
		for i := range list {
			list[i].Online = online.IsOnline(list[i].ID)
		}
		return c.JSON(list)
	}
}

// SearchHandler searches users by name, the caller's group chats by group
// name, or both (type=users|chats|all).
func SearchHandler(users *services.UserService, chats *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		me := CurrentUser(c)
		query := c.Query("query")
		kind := c.Query("type", "all")

		resp := fiber.Map{}
		switch kind {
		case "users", "chats", "all":
		default:
			return fiber.NewError(fiber.StatusBadRequest, "type must be one of users, chats, all")
		}

		if kind != "chats" {
			found, err := users.Search(c.Context(), query, me.ID)
			if err != nil {
				return httpError(err)
			}
			resp["users"] = found
		}
		if kind != "users" {
			found, err := chats.SearchGroups(c.Context(), query, me.ID)
			if err != nil {
				return httpError(err)
			}
			resp["chats"] = found
		}
		return c.JSON(resp)
	}
}

func GetUserHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := users.GetUser(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(u)
	}
}

// PresenceHandler reports a user's online flag and last-seen time.
func PresenceHandler(presence *services.PresenceService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := presence.GetPresence(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(p)
	}
}

