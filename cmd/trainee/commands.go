package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tyemirov/trainee/internal/apiclient"
	"github.com/tyemirov/trainee/internal/views"
)

// newSessionCommands returns the commands that talk to the API. The root
// command and the shell both mount them.
func newSessionCommands(state *cliState) []*cobra.Command {
	return []*cobra.Command{
		newLoginCommand(state),
		newLogoutCommand(state),
		newWhoAmICommand(state),
		newRegisterCommand(state),
		newProfileCommand(state),
		newMyPostsCommand(state),
		newSectionsCommand(state),
		newSectionPostsCommand(state),
		newPublicPostsCommand(state),
		newPostCommand(state),
		newCreatePostCommand(state),
		newUpdatePostCommand(state),
		newDeletePostCommand(state),
		newPublishPostCommand(state),
		newCommentCommand(state),
		newEditCommentCommand(state),
		newDeleteCommentCommand(state),
		newRateCommand(state),
		newAdminCommand(state),
		newStatsCommand(state),
	}
}

func parseID(argument string, name string) (int64, error) {
	identifier, err := strconv.ParseInt(argument, 10, 64)
	if err != nil || identifier <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, argument)
	}
	return identifier, nil
}

func newLoginCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "login <username> <password>",
		Short: "Sign in",
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			if _, err := views.NewLogin(app.client, app.manager).Submit(command.Context(), arguments[0], arguments[1]); err != nil {
				return err
			}
			identity := app.manager.Current().Identity
			state.println("signed in as %s (%s)", identity.Username, identity.Role)
			return nil
		},
	}
}

func newLogoutCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			if _, err := views.NewLogin(app.client, app.manager).Logout(command.Context()); err != nil {
				return err
			}
			state.println("signed out")
			return nil
		},
	}
}

func newWhoAmICommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			snapshot := app.manager.Current()
			if !snapshot.Authenticated() {
				state.println("anonymous")
				return nil
			}
			return state.printJSON(snapshot.Identity)
		},
	}
}

func newRegisterCommand(state *cliState) *cobra.Command {
	var form views.RegisterForm
	command := &cobra.Command{
		Use:   "register",
		Short: "Create an account; an administrator must approve it before sign-in",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			user, err := views.NewRegister(app.client).Submit(command.Context(), form)
			if err != nil {
				return err
			}
			state.println("registered %s (id %d); the account is awaiting approval", user.Username, user.ID)
			return nil
		},
	}
	command.Flags().StringVar(&form.Username, "new_username", "", "Username of the new account")
	command.Flags().StringVar(&form.Email, "email", "", "Email address")
	command.Flags().StringVar(&form.Password, "new_password", "", "Password")
	command.Flags().StringVar(&form.ConfirmPassword, "confirm_password", "", "Password again")
	command.Flags().StringVar(&form.FirstName, "first_name", "", "First name")
	command.Flags().StringVar(&form.LastName, "last_name", "", "Last name")
	return command
}

func newProfileCommand(state *cliState) *cobra.Command {
	command := &cobra.Command{
		Use:   "profile",
		Short: "Update the signed-in user's email or name",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			var input apiclient.ProfileInput
			for flagName, target := range map[string]**string{
				"email":      &input.Email,
				"first_name": &input.FirstName,
				"last_name":  &input.LastName,
			} {
				if command.Flags().Changed(flagName) {
					value, _ := command.Flags().GetString(flagName)
					*target = apiclient.String(value)
				}
			}
			profile := views.NewProfile(app.client, app.manager)
			if err := profile.UpdateDetails(command.Context(), input); err != nil {
				return err
			}
			state.println("profile updated")
			return nil
		},
	}
	command.Flags().String("email", "", "New email address")
	command.Flags().String("first_name", "", "New first name")
	command.Flags().String("last_name", "", "New last name")
	return command
}

func newMyPostsCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "my-posts",
		Short: "List the signed-in user's posts, including drafts",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			profile := views.NewProfile(app.client, app.manager)
			if err := profile.Load(command.Context()); err != nil {
				return err
			}
			return state.printJSON(profile.Snapshot().Data.Posts)
		},
	}
}

func newSectionsCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "sections",
		Short: "List sections",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			home := views.NewHome(app.client)
			if err := home.Load(command.Context()); err != nil {
				return err
			}
			return state.printJSON(home.Snapshot().Data)
		},
	}
}

func newSectionPostsCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "section-posts <section-id>",
		Short: "List the posts of a section",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			sectionID, err := parseID(arguments[0], "section-id")
			if err != nil {
				return err
			}
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			view := views.NewSectionPosts(app.client, sectionID)
			if err := view.Load(command.Context()); err != nil {
				return err
			}
			return state.printJSON(view.Snapshot().Data)
		},
	}
}

func newPublicPostsCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "public-posts",
		Short: "List approved public posts",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			posts, err := app.client.PublicPosts(command.Context())
			if err != nil {
				return err
			}
			return state.printJSON(posts)
		},
	}
}

func newPostCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "post <post-id>",
		Short: "Show a post with its comments and ratings",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			postID, err := parseID(arguments[0], "post-id")
			if err != nil {
				return err
			}
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			detail := views.NewPostDetail(app.client, app.manager, postID)
			if err := detail.Load(command.Context()); err != nil {
				return err
			}
			return state.printJSON(detail.Snapshot().Data)
		},
	}
}

func addPostFlags(command *cobra.Command) {
	command.Flags().String("title", "", "Post title")
	command.Flags().String("type", apiclient.PostTypeMeal, "Post type: meal or workout")
	command.Flags().String("description", "", "Post description")
	command.Flags().Int64("section", 0, "Section id")
	command.Flags().Int("calories", 0, "Calories")
	command.Flags().String("recommendations", "", "Recommendations")
	command.Flags().Bool("public", true, "Submit the post for public listing")
}

// postInputFromFlags copies the flags the user set. When includeDefaults is
// set, unset title, type, description and visibility keep their defaults.
func postInputFromFlags(command *cobra.Command, includeDefaults bool) apiclient.PostInput {
	input := apiclient.PostInput{}
	if includeDefaults {
		input = views.NewDraft()
	}
	flags := command.Flags()
	if flags.Changed("title") || includeDefaults {
		value, _ := flags.GetString("title")
		input.Title = apiclient.String(value)
	}
	if flags.Changed("type") {
		value, _ := flags.GetString("type")
		input.Type = apiclient.String(value)
	}
	if flags.Changed("description") || includeDefaults {
		value, _ := flags.GetString("description")
		input.Description = apiclient.String(value)
	}
	if flags.Changed("section") || includeDefaults {
		value, _ := flags.GetInt64("section")
		input.SectionID = apiclient.Int64(value)
	}
	if flags.Changed("calories") {
		value, _ := flags.GetInt("calories")
		input.Calories = apiclient.Int(value)
	}
	if flags.Changed("recommendations") {
		value, _ := flags.GetString("recommendations")
		input.Recommendations = apiclient.String(value)
	}
	if flags.Changed("public") {
		value, _ := flags.GetBool("public")
		input.IsPublic = apiclient.Bool(value)
	}
	return input
}

func newCreatePostCommand(state *cliState) *cobra.Command {
	command := &cobra.Command{
		Use:   "create-post",
		Short: "Create a post; public posts wait for approval",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			editor := views.NewPostEditor(app.client, app.manager, 0)
			saved, err := editor.Save(command.Context(), postInputFromFlags(command, true))
			if err != nil {
				return err
			}
			return state.printJSON(saved)
		},
	}
	addPostFlags(command)
	return command
}

func newUpdatePostCommand(state *cliState) *cobra.Command {
	command := &cobra.Command{
		Use:   "update-post <post-id>",
		Short: "Change the fields of one of your posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			postID, err := parseID(arguments[0], "post-id")
			if err != nil {
				return err
			}
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			editor := views.NewPostEditor(app.client, app.manager, postID)
			saved, err := editor.Save(command.Context(), postInputFromFlags(command, false))
			if err != nil {
				return err
			}
			return state.printJSON(saved)
		},
	}
	addPostFlags(command)
	return command
}

func newDeletePostCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-post <post-id>",
		Short: "Delete one of your posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			postID, err := parseID(arguments[0], "post-id")
			if err != nil {
				return err
			}
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			if err := views.NewProfile(app.client, app.manager).DeletePost(command.Context(), postID); err != nil {
				return err
			}
			state.println("deleted post %d", postID)
			return nil
		},
	}
}

func newPublishPostCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "publish-post <post-id>",
		Short: "Make a draft public and submit it for approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			postID, err := parseID(arguments[0], "post-id")
			if err != nil {
				return err
			}
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			if err := views.NewProfile(app.client, app.manager).PublishPost(command.Context(), postID); err != nil {
				return err
			}
			state.println("published post %d; it is awaiting approval", postID)
			return nil
		},
	}
}

func newCommentCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <post-id> <text>",
		Short: "Comment on a post",
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			postID, err := parseID(arguments[0], "post-id")
			if err != nil {
				return err
			}
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			detail := views.NewPostDetail(app.client, app.manager, postID)
			if err := detail.AddComment(command.Context(), arguments[1]); err != nil {
				return err
			}
			return state.printJSON(detail.Snapshot().Data.Comments)
		},
	}
}

func newEditCommentCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "edit-comment <comment-id> <text>",
		Short: "Replace the text of one of your comments",
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			commentID, err := parseID(arguments[0], "comment-id")
			if err != nil {
				return err
			}
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			updated, err := app.client.UpdateComment(command.Context(), commentID, arguments[1])
			if err != nil {
				return err
			}
			return state.printJSON(updated)
		},
	}
}

func newDeleteCommentCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-comment <comment-id>",
		Short: "Delete a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			commentID, err := parseID(arguments[0], "comment-id")
			if err != nil {
				return err
			}
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			if err := app.client.DeleteComment(command.Context(), commentID); err != nil {
				return err
			}
			state.println("deleted comment %d", commentID)
			return nil
		},
	}
}

func newRateCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "rate <post-id> <1-5>",
		Short: "Rate a post; rating again replaces your rating",
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			postID, err := parseID(arguments[0], "post-id")
			if err != nil {
				return err
			}
			value, err := strconv.Atoi(arguments[1])
			if err != nil {
				return fmt.Errorf("rating must be a number, got %q", arguments[1])
			}
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			detail := views.NewPostDetail(app.client, app.manager, postID)
			if err := detail.Rate(command.Context(), value); err != nil {
				return err
			}
			data := detail.Snapshot().Data
			if data.Post.AverageRating != nil {
				state.println("rated post %d; average is now %.2f", postID, *data.Post.AverageRating)
			}
			return nil
		},
	}
}

func newAdminCommand(state *cliState) *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Moderation commands for administrators",
	}
	panelAction := func(use string, short string, action func(panel *views.AdminPanel, command *cobra.Command, identifier int64) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(command *cobra.Command, arguments []string) error {
				identifier, err := parseID(arguments[0], "id")
				if err != nil {
					return err
				}
				app, err := state.application(command.Context())
				if err != nil {
					return err
				}
				if err := action(views.NewAdminPanel(app.client, app.manager), command, identifier); err != nil {
					return err
				}
				state.println("%s %d: done", use, identifier)
				return nil
			},
		}
	}

	adminCmd.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "List accounts and posts awaiting approval",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			panel := views.NewAdminPanel(app.client, app.manager)
			if err := panel.Load(command.Context()); err != nil {
				return err
			}
			return state.printJSON(panel.Snapshot().Data)
		},
	})
	adminCmd.AddCommand(panelAction("approve-user", "Activate an account", func(panel *views.AdminPanel, command *cobra.Command, identifier int64) error {
		return panel.ApproveUser(command.Context(), identifier)
	}))
	adminCmd.AddCommand(panelAction("delete-user", "Delete an account with its posts", func(panel *views.AdminPanel, command *cobra.Command, identifier int64) error {
		return panel.DeleteUser(command.Context(), identifier)
	}))
	adminCmd.AddCommand(panelAction("approve-post", "Approve a pending post", func(panel *views.AdminPanel, command *cobra.Command, identifier int64) error {
		return panel.ApprovePost(command.Context(), identifier)
	}))
	adminCmd.AddCommand(panelAction("reject-post", "Delete a pending post", func(panel *views.AdminPanel, command *cobra.Command, identifier int64) error {
		return panel.RejectPost(command.Context(), identifier)
	}))
	adminCmd.AddCommand(&cobra.Command{
		Use:   "debug-posts",
		Short: "List every post regardless of state",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			posts, err := app.client.AllPostsDebug(command.Context())
			if err != nil {
				return err
			}
			return state.printJSON(posts)
		},
	})
	return adminCmd
}

func newStatsCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show session and refresh event counts for this process",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			app, err := state.application(command.Context())
			if err != nil {
				return err
			}
			return state.printJSON(app.metrics.Snapshot())
		},
	}
}
