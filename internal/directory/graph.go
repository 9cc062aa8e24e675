package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
)

const (
	defaultGraphTimeout = 15 * time.Second
	userSelectFields    = "id,displayName,mail,userPrincipalName,userType"
)

var _ Directory = (*GraphClient)(nil)

type graphUser struct {
	ID                string          `json:"id"`
	DisplayName       string          `json:"displayName"`
	Mail              string          `json:"mail"`
	UserPrincipalName string          `json:"userPrincipalName"`
	UserType          string          `json:"userType"`
	Removed           *graphRemovedAt `json:"@removed,omitempty"`
}

type graphRemovedAt struct {
	Reason string `json:"reason"`
}

type graphUserPage struct {
	Value     []graphUser `json:"value"`
	NextLink  string      `json:"@odata.nextLink"`
	DeltaLink string      `json:"@odata.deltaLink"`
}

type graphInstallation struct {
	ID string `json:"id"`
}

type graphInstallationPage struct {
	Value []graphInstallation `json:"value"`
}

type graphChat struct {
	ID string `json:"id"`
}

type graphTeam struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphChannel struct {
	ID string `json:"id"`
}

type installRequest struct {
	TeamsAppBind string `json:"teamsApp@odata.bind"`
}

// GraphClient talks to the Microsoft Graph REST API. Authentication is
// carried by the resty client's underlying http.Client.
type GraphClient struct {
	client     *resty.Client
	baseURL    string
	serviceURL string
}

// NewGraphClient wraps httpClient, typically an oauth2 client-credentials
// client, with resty. serviceURL is the bot service endpoint stamped on
// resolved conversations.
func NewGraphClient(baseURL string, serviceURL string, httpClient *http.Client) (*GraphClient, error) {
	var client *resty.Client
	if httpClient != nil {
		client = resty.NewWithClient(httpClient)
	} else {
		client = resty.New()
	}
	return NewGraphClientWithClient(baseURL, serviceURL, client)
}

func NewGraphClientWithClient(baseURL string, serviceURL string, client *resty.Client) (*GraphClient, error) {
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		return nil, fmt.Errorf("directory base url is required")
	}
	if _, err := url.ParseRequestURI(trimmedBase); err != nil {
		return nil, fmt.Errorf("invalid directory base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGraphTimeout)
	}
	client.SetRetryCount(0)
	client.SetBaseURL(trimmedBase)
	client.SetHeader("Accept", "application/json")

	return &GraphClient{
		client:     client,
		baseURL:    trimmedBase,
		serviceURL: serviceURL,
	}, nil
}

func (g *GraphClient) EnumerateAllUsers(ctx context.Context, cursor string) ([]domain.DirectoryUser, string, error) {
	next := strings.TrimSpace(cursor)
	if next == "" {
		next = "/users/delta?$select=" + userSelectFields
	}

	var users []domain.DirectoryUser
	for {
		var page graphUserPage
		if err := g.get(ctx, "enumerate users", next, &page); err != nil {
			var dirErr *DirectoryError
			if errors.As(err, &dirErr) && dirErr.StatusCode == http.StatusGone {
				return nil, "", fmt.Errorf("%w: %v", ErrDeltaExpired, err)
			}
			return nil, "", err
		}

		for _, u := range page.Value {
			users = append(users, toDomainUser(u))
		}

		if page.NextLink != "" {
			next = page.NextLink
			continue
		}
		return users, page.DeltaLink, nil
	}
}

func (g *GraphClient) EnumerateGroupMembers(ctx context.Context, groupID string) ([]domain.DirectoryUser, error) {
	path := fmt.Sprintf("/groups/%s/transitiveMembers/microsoft.graph.user?$select=%s", url.PathEscape(groupID), userSelectFields)
	return g.listUsers(ctx, "enumerate group members", path)
}

func (g *GraphClient) EnumerateTeamMembers(ctx context.Context, teamID string) ([]domain.DirectoryUser, error) {
	path := fmt.Sprintf("/groups/%s/members/microsoft.graph.user?$select=%s", url.PathEscape(teamID), userSelectFields)
	return g.listUsers(ctx, "enumerate team members", path)
}

func (g *GraphClient) InstallApp(ctx context.Context, userID string, appID string) (bool, error) {
	path := fmt.Sprintf("/users/%s/teamwork/installedApps", url.PathEscape(userID))
	return g.install(ctx, "install app for user", path, appID)
}

func (g *GraphClient) InstallAppForTeam(ctx context.Context, teamID string, appID string) (bool, error) {
	path := fmt.Sprintf("/teams/%s/installedApps", url.PathEscape(teamID))
	return g.install(ctx, "install app for team", path, appID)
}

// ResolvePersonalConversation finds the user's installation of appID and
// returns the id of its one-on-one chat. It returns "" when the app is not
// installed for the user.
func (g *GraphClient) ResolvePersonalConversation(ctx context.Context, userID string, appID string) (string, error) {
	installationsPath := fmt.Sprintf("/users/%s/teamwork/installedApps", url.PathEscape(userID))
	params := map[string]string{
		"$expand": "teamsApp",
		"$filter": fmt.Sprintf("teamsApp/id eq '%s'", appID),
	}

	var installations graphInstallationPage
	if err := g.getWithParams(ctx, "list user installations", installationsPath, params, &installations); err != nil {
		return "", err
	}
	if len(installations.Value) == 0 {
		return "", nil
	}

	chatPath := fmt.Sprintf(
		"/users/%s/teamwork/installedApps/%s/chat",
		url.PathEscape(userID), url.PathEscape(installations.Value[0].ID),
	)
	var chat graphChat
	if err := g.get(ctx, "resolve personal chat", chatPath, &chat); err != nil {
		return "", err
	}
	return chat.ID, nil
}

// ResolveTeamChannel returns the team's primary channel as the conversation
// used for channel posts.
func (g *GraphClient) ResolveTeamChannel(ctx context.Context, teamID string) (domain.TeamChannel, error) {
	var team graphTeam
	if err := g.get(ctx, "get team", "/teams/"+url.PathEscape(teamID), &team); err != nil {
		return domain.TeamChannel{}, err
	}

	var channel graphChannel
	if err := g.get(ctx, "get primary channel", "/teams/"+url.PathEscape(teamID)+"/primaryChannel", &channel); err != nil {
		return domain.TeamChannel{}, err
	}

	return domain.TeamChannel{
		TeamAadID:      teamID,
		Name:           team.DisplayName,
		ConversationID: channel.ID,
		ServiceURL:     g.serviceURL,
	}, nil
}

func (g *GraphClient) listUsers(ctx context.Context, operation string, path string) ([]domain.DirectoryUser, error) {
	var users []domain.DirectoryUser
	next := path
	for next != "" {
		var page graphUserPage
		if err := g.get(ctx, operation, next, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Value {
			users = append(users, toDomainUser(u))
		}
		next = page.NextLink
	}
	return users, nil
}

func (g *GraphClient) install(ctx context.Context, operation string, path string, appID string) (bool, error) {
	body := installRequest{
		TeamsAppBind: fmt.Sprintf("%s/appCatalogs/teamsApps/%s", g.baseURL, appID),
	}

	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(path)
	if err != nil {
		return false, requestError(operation, err)
	}

	statusCode := response.StatusCode()
	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		return true, nil
	case statusCode == http.StatusConflict:
		return true, nil
	case isTransientHTTPStatus(statusCode):
		return false, statusError(operation, response)
	default:
		// Permanent refusal for this recipient (no license, blocked app,
		// unknown user). Reported as not installed, not as a failure.
		return false, nil
	}
}

// get issues a GET against a relative path or an absolute paging link.
func (g *GraphClient) get(ctx context.Context, operation string, path string, out any) error {
	return g.getWithParams(ctx, operation, path, nil, out)
}

func (g *GraphClient) getWithParams(ctx context.Context, operation string, path string, params map[string]string, out any) error {
	response, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		Get(path)
	if err != nil {
		return requestError(operation, err)
	}
	if response.IsError() {
		return statusError(operation, response)
	}
	return nil
}

func requestError(operation string, err error) error {
	return &DirectoryError{
		Operation: operation,
		Message:   "request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

func statusError(operation string, response *resty.Response) error {
	statusCode := response.StatusCode()
	message := fmt.Sprintf("directory returned status %d", statusCode)
	if body := strings.TrimSpace(response.String()); body != "" {
		message = fmt.Sprintf("%s: %s", message, body)
	}
	return &DirectoryError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func toDomainUser(u graphUser) domain.DirectoryUser {
	return domain.DirectoryUser{
		AadID:             u.ID,
		DisplayName:       u.DisplayName,
		Email:             u.Mail,
		UserPrincipalName: u.UserPrincipalName,
		UserType:          u.UserType,
		Deleted:           u.Removed != nil,
	}
}
