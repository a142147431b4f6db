package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage known users",
	}

	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a user",
		Args:  cobra.ExactArgs(1),
		Run:   runUsersAdd,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Run:   runUsersList,
	}

	rmCmd := &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a user and all of their embeddings",
		Args:  cobra.ExactArgs(1),
		Run:   runUsersRm,
	}

	usersCmd.AddCommand(addCmd, listCmd, rmCmd)
	RootCmd.AddCommand(usersCmd)
}

func runUsersAdd(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	u, err := s.AddUser(cmd.Context(), args[0])
	if err != nil {
		exitErr("add user", err)
	}
	printJSON(u)
}

func runUsersList(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	users, err := s.ListUsers(cmd.Context())
	if err != nil {
		exitErr("list users", err)
	}

	if formatFlag == "text" {
		for _, u := range users {
			fmt.Printf("%d\t%s\n", u.ID, u.Name)
		}
		return
	}
	printJSON(users)
}

func runUsersRm(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	u, err := s.GetUserByName(cmd.Context(), args[0])
	if err != nil {
		exitErr("find user", err)
	}
	if err := s.RemoveUser(cmd.Context(), u.ID); err != nil {
		exitErr("remove user", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%d,"name":%q}`+"\n", u.ID, u.Name)
}
