package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/run-ci/conduit/store"
	yaml "gopkg.in/yaml.v2"
)

func usage() {
	fmt.Println("usage: go run dev/seed-db/main.go $POSTGRES_CONNECTION_STRING $DATA_YAML_PATH")
}

func main() {
	if len(os.Args) != 3 {
		usage()
		os.Exit(1)
	}

	connstr := os.Args[1]
	path := os.Args[2]
	if connstr == "" || path == "" {
		usage()
		os.Exit(1)
	}

	fmt.Printf("seeding %v with data from %v\n", connstr, path)

	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("got error reading path: %v\n", err)
		os.Exit(1)
	}

	buf, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("got error reading file: %v\n", err)
		os.Exit(1)
	}

	var d data
	err = yaml.Unmarshal(buf, &d)
	if err != nil {
		fmt.Printf("got error loading YAML: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewPostgres(connstr)
	if err != nil {
		fmt.Printf("got error connecting to postgres: %v\n", err)
		os.Exit(1)
	}

	for i := range d.Groups {
		if err := st.CreateGroup(&d.Groups[i]); err != nil {
			fmt.Printf("got error creating group: %v\n", err)
			os.Exit(1)
		}
	}

	for i := range d.Users {
		if err := st.CreateUser(&d.Users[i]); err != nil {
			fmt.Printf("got error creating user: %v\n", err)
			os.Exit(1)
		}
	}

	for i := range d.Projects {
		if err := st.CreateProject(&d.Projects[i]); err != nil {
			fmt.Printf("got error creating project: %v\n", err)
			os.Exit(1)
		}

		for j := range d.Projects[i].GitRemotes {
			remote := d.Projects[i].GitRemotes[j]
			remote.ProjectID = d.Projects[i].ID

			if err := st.CreateGitRemote(&remote); err != nil {
				fmt.Printf("got error creating git remote: %v\n", err)
				os.Exit(1)
			}
		}
	}

	fmt.Println("done")
}

type data struct {
	Groups   []store.Group
	Users    []store.User
	Projects []store.Project
}
