package transport

import (
	"fmt"

	"github.com/asadovsky/wavedoc/waveapp"
	"github.com/asadovsky/wavedoc/world"
)

// AppDispatcher implements Dispatcher against a live waveapp.App, the
// concrete collaborator an in-process transport (tests, a same-binary
// desktop shell) plugs in without needing a real wire.
type AppDispatcher struct {
	app *waveapp.App
}

// NewAppDispatcher returns a Dispatcher that runs RemoteCalls against app.
func NewAppDispatcher(app *waveapp.App) *AppDispatcher {
	return &AppDispatcher{app: app}
}

func (d *AppDispatcher) Dispatch(call RemoteCall) (RemoteReply, error) {
	reply := RemoteReply{Type: "RemoteReply", CallKey: call.CallKey}

	if call.Method == "" {
		ref, err := d.app.Create(call.ClassName, call.Parameters...)
		if err != nil {
			reply.Err = err.Error()
			return reply, nil
		}
		reply.Result = ref.ID()
		return reply, nil
	}

	result, err := d.app.Call(world.RefFor(call.Ref), call.Method, call.Parameters...)
	if err != nil {
		reply.Err = err.Error()
		return reply, nil
	}
	reply.Result = result
	return reply, nil
}

func (d *AppDispatcher) String() string {
	return fmt.Sprintf("transport.AppDispatcher(%p)", d.app)
}
