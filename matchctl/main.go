package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"golang.org/x/term"

	"github.com/devmatch/devmatch/match"
	"github.com/devmatch/devmatch/match/mockapi"
)


const MatchCtlVersion = "0.0.1"


var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", 0)
}


func main() {
	usage := fmt.Sprintf(`DevMatch control.

The default urls are:
    api_url: %s
    chat_url: the api_url with a ws scheme and path /chat

Settings are layered: defaults, then --config, then .env and the environment
(%s, %s, %s), then flags.

Usage:
    matchctl login [options] --email=<email> [--password=<password>]
    matchctl signup [options]
        --first_name=<first_name>
        --last_name=<last_name>
        --email=<email>
        [--password=<password>]
        [--age=<age>]
        [--gender=<gender>]
        [--about=<about>]
        [--skills=<skills>]
        [--photo=<image_path>]
    matchctl logout [options]
    matchctl profile [options]
    matchctl edit-profile [options]
        [--first_name=<first_name>]
        [--last_name=<last_name>]
        [--age=<age>]
        [--gender=<gender>]
        [--about=<about>]
        [--skills=<skills>]
        [--add_skill=<skill>]
        [--remove_skill=<skill>]
        [--photo=<image_path>]
    matchctl upload [options] <image_path>
    matchctl feed [options]
    matchctl connections [options]
    matchctl requests [options]
    matchctl chat [options] <connection_id>
    matchctl premium [options]
    matchctl verify-premium [options]
    matchctl mock-server [--port=<port>] [--seed]
    matchctl -h | --help
    matchctl --version

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --config=<config>              YAML settings file.
    --api_url=<api_url>
    --chat_url=<chat_url>
    --session_file=<session_file>  Where the login is kept between commands.
    --port=<port>                  Mock server port [default: 7777].
    --seed                         Seed the mock server with demo users.`,
		DefaultApiUrl,
		EnvApiUrl,
		EnvChatUrl,
		EnvSessionFile,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], MatchCtlVersion)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mockServer_, _ := opts.Bool("mock-server"); mockServer_ {
		mockServer(ctx, opts)
		return
	}

	settings, err := LoadMatchCtlSettings(opts)
	if err != nil {
		Err.Printf("%s\n", err)
		os.Exit(1)
	}

	commands := []struct {
		name string
		run func(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error
	}{
		{"login", login},
		{"signup", signup},
		{"logout", logout},
		{"profile", profile},
		{"edit-profile", editProfile},
		{"upload", upload},
		{"feed", feed},
		{"connections", connections},
		{"requests", requests},
		{"chat", chat},
		{"premium", premium},
		{"verify-premium", verifyPremium},
	}
	for _, command := range commands {
		if selected, _ := opts.Bool(command.name); !selected {
			continue
		}
		ctl, err := newMatchCtl(ctx, settings)
		if err != nil {
			Err.Printf("%s\n", err)
			os.Exit(1)
		}
		err = command.run(ctx, ctl, opts)
		ctl.Close()
		if err != nil {
			var apiErr *match.ApiError
			switch {
			case errors.Is(err, match.ErrNotAuthenticated) || match.IsUnauthorized(err):
				Err.Printf("Not logged in. Use `matchctl login`.\n")
			case errors.As(err, &apiErr) || match.IsValidationError(err):
				// already shown as a notification or field messages
				glog.Infof("[matchctl]%s error = %s\n", command.name, err)
			default:
				Err.Printf("%s\n", err)
			}
			os.Exit(1)
		}
		return
	}
}


// one client per invocation, with the session restored from the session file
type matchCtl struct {
	settings *MatchCtlSettings
	client *match.Client
	unsub func()
}

func newMatchCtl(ctx context.Context, settings *MatchCtlSettings) (*matchCtl, error) {
	navigator := match.NavigatorFunc(func(route string) {
		glog.V(1).Infof("[matchctl]navigate %s\n", route)
	})
	client, err := match.NewClient(ctx, settings.ApiUrl, navigator, settings.ClientSettings())
	if err != nil {
		return nil, err
	}

	// notifications are the toasts of the terminal
	unsub := client.Store().Notifications.AddNotificationCallback(func(notification *match.Notification) {
		switch notification.Kind {
		case match.NotificationError:
			Err.Printf("%s\n", notification.Message)
		default:
			Out.Printf("%s\n", notification.Message)
		}
	})

	if sessionFile, err := ReadSessionFile(settings.SessionFile); err != nil {
		glog.Infof("[matchctl]session file error = %s\n", err)
	} else if sessionFile != nil {
		sessionFile.Restore(client.Api(), time.Now())
	}

	return &matchCtl{
		settings: settings,
		client: client,
		unsub: unsub,
	}, nil
}

// the session user, read from the server once per invocation
func (self *matchCtl) requireSession(ctx context.Context) (*match.User, error) {
	if self.client.Api().SessionToken() == "" {
		return nil, match.ErrNotAuthenticated
	}
	user, err := self.client.Account().FetchProfile(ctx)
	if match.IsUnauthorized(err) {
		RemoveSessionFile(self.settings.SessionFile)
	}
	return user, err
}

func (self *matchCtl) saveSession() error {
	return NewSessionFile(self.client.Api()).Write(self.settings.SessionFile)
}

func (self *matchCtl) Close() {
	self.unsub()
	self.client.Close()
}


func login(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	email, _ := opts.String("--email")
	password, err := readPassword(opts)
	if err != nil {
		return err
	}

	user, err := ctl.client.Account().Login(ctx, &match.LoginArgs{
		EmailId: email,
		Password: password,
	})
	if err != nil {
		printValidationErrors(err)
		return err
	}
	if err := ctl.saveSession(); err != nil {
		return err
	}
	Out.Printf("Logged in as %s.\n", user.DisplayName())
	return nil
}

func signup(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	firstName, _ := opts.String("--first_name")
	lastName, _ := opts.String("--last_name")
	email, _ := opts.String("--email")
	password, err := readPassword(opts)
	if err != nil {
		return err
	}

	signupArgs := &match.SignupArgs{
		FirstName: firstName,
		LastName: lastName,
		EmailId: email,
		Password: password,
	}
	if ageString, err := opts.String("--age"); err == nil && ageString != "" {
		age, err := opts.Int("--age")
		if err != nil {
			return fmt.Errorf("Invalid age %s.", ageString)
		}
		signupArgs.Age = &age
	}
	signupArgs.Gender, _ = opts.String("--gender")
	signupArgs.About, _ = opts.String("--about")
	if skills, err := opts.String("--skills"); err == nil {
		signupArgs.Skills = match.ParseSkills(skills)
	}
	if imagePath, err := opts.String("--photo"); err == nil && imagePath != "" {
		photoUrl, err := uploadFile(ctx, ctl, imagePath)
		if err != nil {
			return err
		}
		signupArgs.PhotoUrl = photoUrl
	}

	_, err = ctl.client.Account().Signup(ctx, signupArgs)
	if err != nil {
		printValidationErrors(err)
		return err
	}
	return nil
}

func logout(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	if err := ctl.client.Account().Logout(ctx); err != nil {
		return err
	}
	if err := RemoveSessionFile(ctl.settings.SessionFile); err != nil {
		return err
	}
	Out.Printf("Logged out.\n")
	return nil
}

func profile(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	user, err := ctl.requireSession(ctx)
	if err != nil {
		return err
	}
	printUser(user)
	if user.IsPremium {
		Out.Printf("Premium member.\n")
	}
	return nil
}

func editProfile(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	user, err := ctl.requireSession(ctx)
	if err != nil {
		return err
	}

	patch := &match.ProfilePatch{}
	patch.FirstName, _ = opts.String("--first_name")
	patch.LastName, _ = opts.String("--last_name")
	if ageString, err := opts.String("--age"); err == nil && ageString != "" {
		age, err := opts.Int("--age")
		if err != nil {
			return fmt.Errorf("Invalid age %s.", ageString)
		}
		patch.Age = &age
	}
	patch.Gender, _ = opts.String("--gender")
	patch.About, _ = opts.String("--about")

	skills := user.Skills
	skillsChanged := false
	if skillsString, err := opts.String("--skills"); err == nil {
		skills = match.ParseSkills(skillsString)
		skillsChanged = true
	}
	if skill, err := opts.String("--add_skill"); err == nil {
		skills = match.AddSkill(skills, skill)
		skillsChanged = true
	}
	if skill, err := opts.String("--remove_skill"); err == nil {
		skills = match.RemoveSkill(skills, skill)
		skillsChanged = true
	}
	if skillsChanged {
		patch.Skills = skills
	}

	if imagePath, err := opts.String("--photo"); err == nil && imagePath != "" {
		photoUrl, err := uploadFile(ctx, ctl, imagePath)
		if err != nil {
			return err
		}
		patch.PhotoUrl = photoUrl
	}

	user, err = ctl.client.Account().EditProfile(ctx, patch)
	if err != nil {
		printValidationErrors(err)
		return err
	}
	printUser(user)
	return nil
}

func upload(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	imagePath, _ := opts.String("<image_path>")
	imageUrl, err := uploadFile(ctx, ctl, imagePath)
	if err != nil {
		return err
	}
	Out.Printf("%s\n", imageUrl)
	return nil
}

func feed(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	if _, err := ctl.requireSession(ctx); err != nil {
		return err
	}
	if err := ctl.client.LoadFeed(ctx); err != nil {
		return err
	}

	traversal := ctl.client.Feed()
	lines := newLineReader(ctx)
	for {
		user := traversal.Current()
		if user == nil {
			Out.Printf("No more profiles.\n")
			return nil
		}
		position, total := traversal.Progress()
		Out.Printf("\nProfile %d of %d\n", position, total)
		printUser(user)
		Out.Printf("[c]onnect [p]ass [q]uit: ")

		line, ok := lines.Next()
		if !ok {
			return nil
		}
		var action match.DispatchAction
		switch strings.ToLower(line) {
		case "c":
			action = match.DispatchConnect
		case "p":
			action = match.DispatchPass
		case "q":
			return nil
		default:
			continue
		}
		outcome, err := traversal.ConsumeCurrent(ctx, action)
		if err != nil {
			return err
		}
		if outcome.Ok() && action == match.DispatchConnect {
			Out.Printf("Request sent to %s.\n", user.FirstName)
		}
		if match.IsUnauthorized(outcome.Err) {
			return outcome.Err
		}
	}
}

func connections(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	me, err := ctl.requireSession(ctx)
	if err != nil {
		return err
	}
	if err := ctl.client.LoadConnections(ctx); err != nil {
		return err
	}

	items := ctl.client.Store().Connections.Items()
	if len(items) == 0 {
		Out.Printf("No connections yet.\n")
		return nil
	}
	for _, connection := range items {
		partner := connection.Partner(me.Id)
		if partner == nil {
			continue
		}
		Out.Printf("%s  %s\n", connection.Id, partner.DisplayName())
		if partner.About != "" {
			Out.Printf("    %s\n", partner.About)
		}
	}
	return nil
}

func requests(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	if _, err := ctl.requireSession(ctx); err != nil {
		return err
	}
	if err := ctl.client.LoadRequests(ctx); err != nil {
		return err
	}

	lines := newLineReader(ctx)
	for _, request := range ctl.client.Store().Requests.Items() {
		Out.Printf("\n")
		if request.FromUser != nil {
			printUser(request.FromUser)
		}
		Out.Printf("[a]ccept [r]eject [s]kip: ")

		line, ok := lines.Next()
		if !ok {
			return nil
		}
		var action match.DispatchAction
		switch strings.ToLower(line) {
		case "a":
			action = match.DispatchAccept
		case "r":
			action = match.DispatchReject
		default:
			continue
		}
		outcome := ctl.client.ReviewRequest(ctx, action, request.Id)
		if outcome.Ok() {
			Out.Printf("Request %s.\n", action.Status())
		} else if match.IsUnauthorized(outcome.Err) {
			return outcome.Err
		}
	}
	if ctl.client.Store().Requests.Len() == 0 {
		Out.Printf("No pending requests.\n")
	}
	return nil
}

func chat(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	me, err := ctl.requireSession(ctx)
	if err != nil {
		return err
	}
	connectionId, _ := opts.String("<connection_id>")

	channel, err := ctl.client.OpenChat(ctx, match.Id(connectionId))
	if err != nil {
		return err
	}
	defer channel.Close()

	printed := 0
	printTranscript := func(transcript []*match.TranscriptEntry) {
		for ; printed < len(transcript); printed += 1 {
			entry := transcript[printed]
			switch entry.Role(me.Id) {
			case match.ChatRoleSystem:
				Out.Printf("* %s\n", entry.Message.Text)
			case match.ChatRoleSelf:
				Out.Printf("me: %s\n", entry.Message.Text)
			default:
				Out.Printf("them: %s\n", entry.Message.Text)
			}
		}
	}
	var printLock sync.Mutex
	unsub := channel.AddTranscriptChangeCallback(func(transcript []*match.TranscriptEntry) {
		printLock.Lock()
		defer printLock.Unlock()
		printTranscript(transcript)
	})
	defer unsub()
	func() {
		printLock.Lock()
		defer printLock.Unlock()
		printTranscript(channel.Transcript())
	}()

	lines := newLineReader(ctx)
	for {
		line, ok := lines.NextOr(channel.Done())
		if !ok {
			break
		}
		if line == "/quit" {
			break
		}
		if err := channel.SendMessage(line); errors.Is(err, match.ErrEmptyMessage) {
			continue
		} else if err != nil {
			break
		}
	}
	channel.Close()
	<-channel.Done()
	if err := channel.Err(); err != nil {
		Err.Printf("Chat closed (%s).\n", err)
	}
	return nil
}

func premium(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	if _, err := ctl.requireSession(ctx); err != nil {
		return err
	}
	order, err := ctl.client.Account().CreatePremiumOrder(ctx)
	if err != nil {
		return err
	}
	Out.Printf("Order %s: %d %s (%s)\n", order.OrderId, order.Amount, order.Currency, order.Notes.MembershipType)
	if order.KeyId != "" {
		Out.Printf("Key %s\n", order.KeyId)
	}
	Out.Printf("Complete the payment, then run `matchctl verify-premium`.\n")
	return nil
}

func verifyPremium(ctx context.Context, ctl *matchCtl, opts docopt.Opts) error {
	if _, err := ctl.requireSession(ctx); err != nil {
		return err
	}
	isPremium, err := ctl.client.Account().VerifyPremium(ctx)
	if err != nil {
		return err
	}
	if isPremium {
		Out.Printf("Premium is active.\n")
	} else {
		Out.Printf("Premium is not active.\n")
	}
	return nil
}


func mockServer(ctx context.Context, opts docopt.Opts) {
	port, err := opts.Int("--port")
	if err != nil {
		Err.Printf("Invalid port.\n")
		os.Exit(1)
	}
	seed, _ := opts.Bool("--seed")

	gin.SetMode(gin.ReleaseMode)
	server := mockapi.NewServer()
	defer server.Close()
	if seed {
		seedMockServer(server)
	}

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", port),
		Handler: server.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5 * time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	Out.Printf("Mock api on http://localhost:%d\n", port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Err.Printf("%s\n", err)
		os.Exit(1)
	}
}

func seedMockServer(server *mockapi.Server) {
	seeds := []struct {
		firstName string
		about string
		skills []string
	}{
		{"Ann", "Backend engineer.", []string{"go", "postgres"}},
		{"Bob", "Frontend and design.", []string{"react", "css"}},
		{"Cy", "Infra tinkerer.", []string{"kubernetes", "terraform"}},
	}
	for _, seed := range seeds {
		emailId := fmt.Sprintf("%s@example.com", strings.ToLower(seed.firstName))
		_, err := server.AddUser(&mockapi.NewUser{
			FirstName: seed.firstName,
			LastName: "Demo",
			EmailId: emailId,
			Password: "Demo@1234",
			About: seed.about,
			Skills: seed.skills,
		})
		if err != nil {
			glog.Infof("[matchctl]seed error = %s\n", err)
			continue
		}
		Out.Printf("Seeded %s (password Demo@1234)\n", emailId)
	}
}


func readPassword(opts docopt.Opts) (string, error) {
	if password, err := opts.String("--password"); err == nil && password != "" {
		return password, nil
	}
	fmt.Print("Enter password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Printf("\n")
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

func uploadFile(ctx context.Context, ctl *matchCtl, imagePath string) (string, error) {
	content, err := os.ReadFile(imagePath)
	if err != nil {
		return "", err
	}
	imageUrl, err := ctl.client.Account().UploadImage(ctx, &match.UploadImageArgs{
		FileName: filepath.Base(imagePath),
		ContentType: http.DetectContentType(content),
		Content: content,
	})
	if err != nil {
		printValidationErrors(err)
		return "", err
	}
	return imageUrl, nil
}

func printUser(user *match.User) {
	header := user.DisplayName()
	if user.Age != nil {
		header = fmt.Sprintf("%s, %d", header, *user.Age)
	}
	if user.Gender != "" {
		header = fmt.Sprintf("%s (%s)", header, user.Gender)
	}
	Out.Printf("%s\n", header)
	if user.About != "" {
		Out.Printf("    %s\n", user.About)
	}
	if 0 < len(user.Skills) {
		Out.Printf("    skills: %s\n", strings.Join(user.Skills, ", "))
	}
	if user.PhotoUrl != "" {
		Out.Printf("    photo: %s\n", user.PhotoUrl)
	}
}

func printValidationErrors(err error) {
	var validationErrors match.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return
	}
	for _, message := range strings.Split(validationErrors.Error(), "; ") {
		Err.Printf("%s\n", message)
	}
}


// stdin lines, trimmed. Reading stops when ctx is done
type lineReader struct {
	ctx context.Context
	lines chan string
}

func newLineReader(ctx context.Context) *lineReader {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case lines <- strings.TrimSpace(scanner.Text()):
			}
		}
	}()
	return &lineReader{
		ctx: ctx,
		lines: lines,
	}
}

func (self *lineReader) Next() (string, bool) {
	return self.NextOr(nil)
}

// also stops when `done` is closed
func (self *lineReader) NextOr(done <-chan struct{}) (string, bool) {
	select {
	case <-self.ctx.Done():
		return "", false
	case <-done:
		return "", false
	case line, ok := <-self.lines:
		return line, ok
	}
}
