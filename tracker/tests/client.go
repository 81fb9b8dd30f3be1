package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"tallyboard/tracker/services"
	"tallyboard/tracker/stats"

	"github.com/go-chi/chi/v5"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
	login    *loginInfo
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
		headers:  nil,
		json:     nil,
		body:     nil,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Login(email, password string) *httpTestRequest {
	r.login = &loginInfo{Email: email, Password: password}
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	if r.login != nil {
		req.SetBasicAuth(r.login.Email, r.login.Password)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		if res.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

var ErrUnauthorized = errors.New("unauthorized")

type client struct {
	api       chi.Router
	authToken string
	userId    string
}

func (c *client) Get(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "GET", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Post(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "POST", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "DELETE", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

type loginInfo struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *client) signup(username, email, password string) (loginInfo, error) {
	body := map[string]string{
		"email": email, "username": username, "password": password,
	}

	err := c.Post("/user/signup").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) login(login loginInfo) error {
	var res map[string]string
	err := c.Get("/user/login").Login(login.Email, login.Password).Do(&res)
	if err != nil {
		return err
	}

	c.authToken = res["access_token"]
	c.userId = res["user_id"]

	return nil
}

func (c *client) userInfo() (services.UserInfo, error) {
	var res services.UserInfo
	err := c.Get("/user/info").Do(&res)
	return res, err
}

// sharedParam marks a path id as a share edge reference.
func sharedParam(shared bool) string {
	if shared {
		return "?shared=true"
	}
	return ""
}

func (c *client) createGame(name string) (string, error) {
	body := map[string]interface{}{"name": name}

	var res map[string]string
	err := c.Post("/games/create").Json(body).Do(&res)
	return res["id"], err
}

func (c *client) gameInfo(gameId string, shared bool) (services.GameInfo, error) {
	var res services.GameInfo
	err := c.Get(fmt.Sprintf("/games/%v%v", gameId, sharedParam(shared))).Do(&res)
	return res, err
}

func (c *client) listGames() ([]services.GameInfo, error) {
	var res []services.GameInfo
	err := c.Get("/games/list").Do(&res)
	return res, err
}

func (c *client) deleteGame(gameId string) error {
	return c.Delete(fmt.Sprintf("/games/%v", gameId)).Do(nil)
}

func (c *client) createRole(gameId, name string) (string, error) {
	body := map[string]string{"name": name}

	var res map[string]string
	err := c.Post(fmt.Sprintf("/games/%v/roles", gameId)).Json(body).Do(&res)
	return res["id"], err
}

func (c *client) createScoresheet(gameId string, gameShared bool, body map[string]interface{}) (string, error) {
	body["game_id"] = gameId
	body["game_shared"] = gameShared

	var res map[string]string
	err := c.Post("/scoresheets/create").Json(body).Do(&res)
	return res["id"], err
}

func (c *client) scoresheetInfo(sheetId string, shared bool) (services.ScoresheetInfo, error) {
	var res services.ScoresheetInfo
	err := c.Get(fmt.Sprintf("/scoresheets/%v%v", sheetId, sharedParam(shared))).Do(&res)
	return res, err
}

func (c *client) createRound(sheetId string, body map[string]interface{}) (string, error) {
	var res map[string]string
	err := c.Post(fmt.Sprintf("/scoresheets/%v/rounds", sheetId)).Json(body).Do(&res)
	return res["id"], err
}

func (c *client) createPlayer(name string) (string, error) {
	body := map[string]string{"name": name}

	var res map[string]string
	err := c.Post("/players/create").Json(body).Do(&res)
	return res["id"], err
}

func (c *client) playerInfo(playerId string, shared bool) (services.PlayerInfo, error) {
	var res services.PlayerInfo
	err := c.Get(fmt.Sprintf("/players/%v%v", playerId, sharedParam(shared))).Do(&res)
	return res, err
}

func (c *client) createMatch(body map[string]interface{}) (string, error) {
	var res map[string]string
	err := c.Post("/matches/create").Json(body).Do(&res)
	return res["id"], err
}

func (c *client) matchInfo(matchId string, shared bool) (services.MatchInfo, error) {
	var res services.MatchInfo
	err := c.Get(fmt.Sprintf("/matches/%v%v", matchId, sharedParam(shared))).Do(&res)
	return res, err
}

func (c *client) listMatches(query string) ([]services.MatchSummary, error) {
	var res []services.MatchSummary
	err := c.Get("/matches/list" + query).Do(&res)
	return res, err
}

func (c *client) pauseMatch(matchId string, shared bool) error {
	return c.Post(fmt.Sprintf("/matches/%v/pause%v", matchId, sharedParam(shared))).Json(struct{}{}).Do(nil)
}

func (c *client) resumeMatch(matchId string, shared bool) error {
	return c.Post(fmt.Sprintf("/matches/%v/resume%v", matchId, sharedParam(shared))).Json(struct{}{}).Do(nil)
}

func (c *client) setScore(matchId, matchPlayerId string, score *float64) error {
	body := map[string]interface{}{"score": score}
	return c.Post(fmt.Sprintf("/matches/%v/players/%v/score", matchId, matchPlayerId)).Json(body).Do(nil)
}

func (c *client) setRoundScore(matchId, matchPlayerId, roundId string, score *float64) error {
	body := map[string]interface{}{"score": score}
	return c.Post(fmt.Sprintf("/matches/%v/players/%v/rounds/%v", matchId, matchPlayerId, roundId)).Json(body).Do(nil)
}

func (c *client) finishMatch(matchId string, shared bool) (string, error) {
	var res map[string]string
	err := c.Post(fmt.Sprintf("/matches/%v/finish%v", matchId, sharedParam(shared))).Json(struct{}{}).Do(&res)
	return res["outcome"], err
}

func (c *client) confirmWinners(matchId string, winnerIds []string) error {
	body := map[string]interface{}{"winner_ids": winnerIds}
	return c.Post(fmt.Sprintf("/matches/%v/winners", matchId)).Json(body).Do(nil)
}

func (c *client) confirmTieBreak(matchId string, orderedIds []string) error {
	body := map[string]interface{}{"ordered_ids": orderedIds}
	return c.Post(fmt.Sprintf("/matches/%v/tiebreak", matchId)).Json(body).Do(nil)
}

func (c *client) createShare(family, entityId, recipientId, permission string, includeChildren bool) (string, error) {
	body := map[string]interface{}{
		"family": family, "entity_id": entityId, "recipient_id": recipientId,
		"permission": permission, "include_children": includeChildren,
	}

	var res map[string]string
	err := c.Post("/shares/create").Json(body).Do(&res)
	return res["share_id"], err
}

func (c *client) acceptShare(family, shareId string) error {
	return c.Post(fmt.Sprintf("/shares/%v/%v/accept", family, shareId)).Json(struct{}{}).Do(nil)
}

func (c *client) declineShare(family, shareId string) error {
	return c.Post(fmt.Sprintf("/shares/%v/%v/decline", family, shareId)).Json(struct{}{}).Do(nil)
}

func (c *client) revokeShare(family, shareId string) error {
	return c.Post(fmt.Sprintf("/shares/%v/%v/revoke", family, shareId)).Json(struct{}{}).Do(nil)
}

func (c *client) linkShare(family, shareId, targetId string) error {
	body := map[string]string{"target_id": targetId}
	return c.Post(fmt.Sprintf("/shares/%v/%v/link", family, shareId)).Json(body).Do(nil)
}

func (c *client) unlinkShare(family, shareId string) error {
	return c.Delete(fmt.Sprintf("/shares/%v/%v/link", family, shareId)).Do(nil)
}

func (c *client) createInvite(family, shareId string) (string, error) {
	var res map[string]string
	err := c.Post(fmt.Sprintf("/shares/%v/%v/invite", family, shareId)).Json(struct{}{}).Do(&res)
	return res["token"], err
}

func (c *client) acceptInvite(family, token string) error {
	body := map[string]string{"family": family, "token": token}
	return c.Post("/shares/accept-invite").Json(body).Do(nil)
}

func (c *client) incomingShares() ([]services.ShareInfo, error) {
	var res []services.ShareInfo
	err := c.Get("/shares/incoming").Do(&res)
	return res, err
}

func (c *client) outgoingShares() ([]services.ShareInfo, error) {
	var res []services.ShareInfo
	err := c.Get("/shares/outgoing").Do(&res)
	return res, err
}

func (c *client) gameStats(gameId string, shared bool) (stats.GameStats, error) {
	var res stats.GameStats
	err := c.Get(fmt.Sprintf("/stats/games/%v%v", gameId, sharedParam(shared))).Do(&res)
	return res, err
}

func (c *client) scoresheetStats(sheetId string, shared bool) ([]stats.ScoresheetStats, error) {
	var res []stats.ScoresheetStats
	err := c.Get(fmt.Sprintf("/stats/scoresheets/%v%v", sheetId, sharedParam(shared))).Do(&res)
	return res, err
}
