package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"reftrack/internal/services"

	"github.com/gin-gonic/gin"
)

// Redirect sends the visitor to the tracking link's target and records the
// click. Unknown codes fall back to the default landing page; a failed click
// write never blocks the redirect.
func (h *Handler) Redirect(c *gin.Context) {
	code := c.Param("code")
	ctx := c.Request.Context()

	var (
		res *services.Resolution
		err error
	)
	if raw := c.Param("link"); raw != "" {
		linkID, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil {
			err = services.ErrNotFound
		} else {
			res, err = h.resolver.ResolveLink(ctx, code, uint(linkID))
		}
	} else {
		res, err = h.resolver.Resolve(ctx, code)
	}
	if errors.Is(err, services.ErrNotFound) {
		h.logger.Debug("Unknown referral code, using landing page", "code", code)
		c.Redirect(http.StatusFound, h.cfg.DefaultLandingURL)
		return
	}
	if err != nil {
		h.logger.Error("Failed to resolve referral code", "code", code, "error", err)
		c.Redirect(http.StatusFound, h.cfg.DefaultLandingURL)
		return
	}

	target, err := res.TargetURL()
	if err != nil {
		h.logger.Error("Stored link has an invalid base url", "code", code, "link_id", res.LinkID, "error", err)
		c.Redirect(http.StatusFound, h.cfg.DefaultLandingURL)
		return
	}

	linkID := res.LinkID
	_, err = h.recorder.RecordClick(ctx, services.ClickDTO{
		Code:      res.Code,
		VisitorID: visitorFromContext(c),
		LinkID:    &linkID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
	})
	if err != nil {
		h.logger.Error("Failed to record click", "code", res.Code, "error", err)
	}

	c.Redirect(http.StatusFound, target)
}
